// Package deploy runs the two-round deployment workflow: it acquires the
// task's repository, generates and publishes the site, records the task in
// the registry and reports the outcome to the caller's evaluation URL.
package deploy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nedaZarei/PagesDeployService/pkg/apperrors"
	"github.com/nedaZarei/PagesDeployService/pkg/artifact"
	"github.com/nedaZarei/PagesDeployService/pkg/db"
	"github.com/nedaZarei/PagesDeployService/pkg/models"
	"github.com/nedaZarei/PagesDeployService/pkg/report"
	"github.com/nedaZarei/PagesDeployService/pkg/repostore"
)

// ProjectStore is the repository host the site is published to.
type ProjectStore interface {
	FindProject(ctx context.Context, name string) (*repostore.ProjectInfo, error)
	CreateOrGetProject(ctx context.Context, name string) (*repostore.ProjectInfo, error)
	PublishFile(ctx context.Context, project, fileName string, content []byte, message string) (*repostore.CommitInfo, error)
	EnableStaticHosting(ctx context.Context, project string) (string, error)
	LatestCommitSHA(ctx context.Context, project, branch string) (string, error)
	RepoURL(name string) string
}

// Generator produces the application source for a brief.
type Generator interface {
	Generate(ctx context.Context, brief string, attachments []json.RawMessage) (string, error)
}

// Reporter delivers the result of a round. It never fails the round.
type Reporter interface {
	Report(ctx context.Context, url string, result models.DeploymentResult) report.Delivery
}

// Archiver keeps a copy of every published file set.
type Archiver interface {
	Archive(ctx context.Context, project string, round int, files []models.File) error
}

// EventPublisher announces finished rounds to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event models.DeploymentEvent) error
}

// Notifier tells the task owner that a round was deployed.
type Notifier interface {
	NotifyDeployed(ctx context.Context, result models.DeploymentResult) error
}

// Dependencies wires a Deployer. Archive, Events and Notifier are optional.
type Dependencies struct {
	Store     ProjectStore
	Generator Generator
	Registry  db.Registry
	Reporter  Reporter
	Archive   Archiver
	Events    EventPublisher
	Notifier  Notifier
	Logger    zerolog.Logger
}

// Outcome describes a completed round.
type Outcome struct {
	Round       int
	ProjectName string
	RepoURL     string
	PagesURL    string
	CommitSHA   string
	// Updated is true when round 2 revised a project the registry already knew.
	Updated  bool
	Delivery report.Delivery
}

// Deployer runs deployment rounds. Rounds for the same nonce are serialized;
// rounds for different nonces run independently.
type Deployer struct {
	deps  Dependencies
	locks *keyedMutex
	log   zerolog.Logger
}

func New(deps Dependencies) *Deployer {
	return &Deployer{
		deps:  deps,
		locks: newKeyedMutex(),
		log:   deps.Logger.With().Str("component", "deployer").Logger(),
	}
}

// Run executes the round selected by req.Round.
//
// Files already committed when a later stage fails are not rolled back: the
// store offers no transaction across the three publishes, so a failed round
// may leave a partially updated repository behind. The next round rewrites
// every file and converges.
func (d *Deployer) Run(ctx context.Context, req *models.TaskRequest) (*Outcome, error) {
	if req.Round != 1 && req.Round != 2 {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidRound, "round %d", req.Round)
	}

	unlock := d.locks.Lock(req.Nonce)
	defer unlock()

	// once started, a round is never cut short by its caller
	ctx = context.WithoutCancel(ctx)
	log := d.log.With().Str("nonce", req.Nonce).Int("round", req.Round).Logger()
	ctx = log.WithContext(ctx)

	var (
		out *Outcome
		err error
	)
	if req.Round == 1 {
		out, err = d.runInitial(ctx, req)
	} else {
		out, err = d.runRevision(ctx, req)
	}
	if err != nil {
		log.Error().Err(err).Msg("deployment round failed")
		d.publishFailure(ctx, req, err)
		return nil, err
	}
	return out, nil
}

// runInitial creates (or reuses) the project and deploys into it.
func (d *Deployer) runInitial(ctx context.Context, req *models.TaskRequest) (*Outcome, error) {
	name := req.ProjectName()
	pub, err := d.publish(ctx, req, name)
	if err != nil {
		return nil, err
	}
	if err := d.record(ctx, req.Nonce, name); err != nil {
		return nil, err
	}
	return d.finish(ctx, req, pub, false), nil
}

// runRevision updates the project registered for the nonce. When the registry
// does not know the nonce, or the project has disappeared, it falls back to
// the round-1 acquisition under the deterministic name and registers it.
func (d *Deployer) runRevision(ctx context.Context, req *models.TaskRequest) (*Outcome, error) {
	log := zerolog.Ctx(ctx)

	known, ok, err := d.deps.Registry.Lookup(ctx, req.Nonce)
	if err != nil {
		log.Warn().Err(err).Msg("registry lookup failed, treating nonce as unknown")
		ok = false
	}

	if ok {
		info, err := d.deps.Store.FindProject(ctx, known)
		if err != nil {
			log.Warn().Err(err).Str("repo", known).Msg("could not confirm known repository, falling back")
		}
		if err == nil && info != nil {
			pub, err := d.publish(ctx, req, known)
			if err != nil {
				return nil, err
			}
			return d.finish(ctx, req, pub, true), nil
		}
	}

	name := req.ProjectName()
	pub, err := d.publish(ctx, req, name)
	if err != nil {
		return nil, err
	}
	if err := d.record(ctx, req.Nonce, name); err != nil {
		return nil, err
	}
	log.Info().Str("repo", name).Msg("repository not in registry or deleted, used/created repository and deployed")
	return d.finish(ctx, req, pub, false), nil
}

type publication struct {
	project   string
	repoURL   string
	pagesURL  string
	commitSHA string
	files     []models.File
}

// publish acquires the project, generates the site, pushes the three files in
// order, enables hosting and reads the resulting head commit.
func (d *Deployer) publish(ctx context.Context, req *models.TaskRequest, name string) (*publication, error) {
	log := zerolog.Ctx(ctx).With().Str("repo", name).Logger()

	info, err := d.deps.Store.CreateOrGetProject(ctx, name)
	if err != nil {
		return nil, newStageError(StageAcquire, name, err)
	}

	brief, attachments := req.Instructions()
	source, err := d.deps.Generator.Generate(ctx, brief, attachments)
	if err != nil {
		return nil, newStageError(StageGenerate, name, err)
	}

	files, err := artifact.Assemble(req.Task, brief, source)
	if err != nil {
		return nil, newStageError(StageAssemble, name, err)
	}

	for _, f := range files {
		msg := fmt.Sprintf("[Round %d] Update %s", req.Round, f.Name)
		commit, err := d.deps.Store.PublishFile(ctx, name, f.Name, f.Content, msg)
		if err != nil {
			return nil, newStageError(StagePublish, name, err)
		}
		log.Debug().Str("file", f.Name).Str("commit_sha", commit.CommitSHA).Msg("published file")
	}

	pagesURL, err := d.deps.Store.EnableStaticHosting(ctx, name)
	if err != nil {
		return nil, newStageError(StageHosting, name, err)
	}

	sha, err := d.deps.Store.LatestCommitSHA(ctx, name, "")
	if err != nil {
		return nil, newStageError(StageCommit, name, err)
	}

	repoURL := d.deps.Store.RepoURL(name)
	if info != nil && info.HTMLURL != "" {
		repoURL = info.HTMLURL
	}

	log.Info().Str("pages_url", pagesURL).Str("commit_sha", sha).Msg("published site")
	return &publication{project: name, repoURL: repoURL, pagesURL: pagesURL, commitSHA: sha, files: files}, nil
}

func (d *Deployer) record(ctx context.Context, nonce, name string) error {
	if err := d.deps.Registry.Record(ctx, nonce, name); err != nil {
		return newStageError(StageRegistry, name, fmt.Errorf("%w: %w", apperrors.ErrRegistry, err))
	}
	return nil
}

// finish reports the result, waiting for delivery or retry exhaustion, then
// runs the optional side channels.
func (d *Deployer) finish(ctx context.Context, req *models.TaskRequest, pub *publication, updated bool) *Outcome {
	result := models.DeploymentResult{
		Email:    req.Email,
		Task:     req.Task,
		Round:    req.Round,
		Nonce:    req.Nonce,
		RepoURL:  pub.repoURL,
		PagesURL: pub.pagesURL,
	}
	if pub.commitSHA != "" {
		sha := pub.commitSHA
		result.CommitSHA = &sha
	}

	delivery := d.deps.Reporter.Report(ctx, req.EvaluationURL, result)
	d.afterDeploy(ctx, req, pub, result)

	return &Outcome{
		Round:       req.Round,
		ProjectName: pub.project,
		RepoURL:     pub.repoURL,
		PagesURL:    pub.pagesURL,
		CommitSHA:   pub.commitSHA,
		Updated:     updated,
		Delivery:    delivery,
	}
}

func (d *Deployer) afterDeploy(ctx context.Context, req *models.TaskRequest, pub *publication, result models.DeploymentResult) {
	log := zerolog.Ctx(ctx)

	if d.deps.Archive != nil {
		if err := d.deps.Archive.Archive(ctx, pub.project, req.Round, pub.files); err != nil {
			log.Warn().Err(err).Msg("failed to archive published files")
		}
	}
	if d.deps.Events != nil {
		event := models.DeploymentEvent{
			Nonce:     req.Nonce,
			Task:      req.Task,
			Round:     req.Round,
			Project:   pub.project,
			Status:    models.DeploymentSucceeded,
			RepoURL:   pub.repoURL,
			PagesURL:  pub.pagesURL,
			CommitSHA: pub.commitSHA,
		}
		if err := d.deps.Events.Publish(ctx, event); err != nil {
			log.Warn().Err(err).Msg("failed to publish deployment event")
		}
	}
	if d.deps.Notifier != nil {
		if err := d.deps.Notifier.NotifyDeployed(ctx, result); err != nil {
			log.Warn().Err(err).Msg("failed to send deployment email")
		}
	}
}

func (d *Deployer) publishFailure(ctx context.Context, req *models.TaskRequest, err error) {
	if d.deps.Events == nil {
		return
	}
	event := models.DeploymentEvent{
		Nonce:   req.Nonce,
		Task:    req.Task,
		Round:   req.Round,
		Project: req.ProjectName(),
		Status:  models.DeploymentFailed,
		Error:   err.Error(),
	}
	if se, ok := AsStageError(err); ok {
		event.Stage = string(se.Stage)
		event.Project = se.Project
	}
	if perr := d.deps.Events.Publish(ctx, event); perr != nil {
		zerolog.Ctx(ctx).Warn().Err(perr).Msg("failed to publish failure event")
	}
}
