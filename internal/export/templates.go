package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var certificateTemplate = template.Must(template.New("certificate").Funcs(template.FuncMap{
	"upper": strings.ToUpper,
	"formatDate": func(t time.Time, layout string) string {
		return t.UTC().Format(layout)
	},
}).Parse(certificateHTML))

// RenderCertificateHTML renders the certificate page.
func RenderCertificateHTML(cert Certificate) (string, error) {
	var buf bytes.Buffer
	if err := certificateTemplate.Execute(&buf, cert); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const certificateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.CourseTitle}} certificate</title>
  <style>
    @page { size: 11in 8.5in; margin: 0; }
    body { font-family: Georgia, serif; margin: 0; color: #1f2933; }
    .frame { box-sizing: border-box; width: 11in; height: 8.5in; padding: 0.6in; }
    .inner { border: 6px double #3d4f7c; height: 100%; text-align: center; padding: 0.7in 0.8in; box-sizing: border-box; }
    .brand { letter-spacing: 0.3em; color: #3d4f7c; font-size: 14pt; }
    h1 { font-size: 34pt; margin: 0.35in 0 0.2in; font-weight: normal; }
    .name { font-size: 28pt; border-bottom: 1px solid #9aa5b1; display: inline-block; padding: 0 0.4in 0.08in; }
    .course { font-size: 20pt; font-style: italic; margin-top: 0.15in; }
    .meta { margin-top: 0.5in; font-size: 11pt; color: #52606d; }
  </style>
</head>
<body>
  <div class="frame"><div class="inner">
    <div class="brand">{{upper "MetaLearn"}}</div>
    <h1>Certificate of Completion</h1>
    <p>This certifies that</p>
    <div class="name">{{.LearnerName}}</div>
    <p>has completed all {{.TotalModules}} modules of</p>
    <div class="course">{{.CourseTitle}}</div>
    <div class="meta">
      Enrolled {{formatDate .EnrolledAt "Jan 2, 2006"}} &middot; Issued {{formatDate .IssuedAt "Jan 2, 2006"}}<br>
      Certificate {{.Serial}}
    </div>
  </div></div>
</body>
</html>`
