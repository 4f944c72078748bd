// Package artifact builds the fixed set of files published for a task.
package artifact

import (
	"bytes"
	"text/template"

	"github.com/nedaZarei/PagesDeployService/pkg/models"
)

const (
	IndexFile   = "index.html"
	ReadmeFile  = "README.md"
	LicenseFile = "LICENSE"
)

var readmeTemplate = template.Must(template.New("readme").Parse(`# {{.Task}}

## Summary

This application was automatically generated based on the following brief:
> {{.Brief}}

## Setup

This is a static HTML application hosted on GitHub Pages. No setup is required. Simply visit the GitHub Pages URL to view the live application.

## Usage

Open the ` + "`index.html`" + ` file in your browser or visit the live GitHub Pages link.

## Code Explanation

The application consists of a single ` + "`index.html`" + ` file. It was generated by an AI model to fulfill the requirements of the project brief.

## License

This project is licensed under the MIT License - see the [LICENSE](LICENSE) file for details.
`))

const licenseText = `MIT License

Copyright (c) [2024] [Your Name or GitHub Username]

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
`

// Assemble returns the files to publish, in publish order: the generated
// application, its README and the license.
func Assemble(task, brief, source string) ([]models.File, error) {
	readme, err := Readme(task, brief)
	if err != nil {
		return nil, err
	}
	return []models.File{
		{Name: IndexFile, Content: []byte(source)},
		{Name: ReadmeFile, Content: readme},
		{Name: LicenseFile, Content: []byte(licenseText)},
	}, nil
}

// Readme renders the README for a task.
func Readme(task, brief string) ([]byte, error) {
	var buf bytes.Buffer
	if err := readmeTemplate.Execute(&buf, struct{ Task, Brief string }{task, brief}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// License returns the static license text.
func License() []byte {
	return []byte(licenseText)
}
