// Package report renders the diagnostic HTML artifacts of a training run:
// tabbed pages whose charts are gonum/plot figures embedded as inline SVG.
// Reports are advisory side channels; callers log render failures and move
// on rather than failing a run over a chart.
package report

import (
	"bytes"
	"html/template"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgsvg"

	"github.com/prismlab/refindex/pkg/errors"
)

// Tab is one tab of a report page.
type Tab struct {
	Name string
	SVG  template.HTML
}

// RenderSVG draws p onto an SVG canvas and returns the markup for embedding.
func RenderSVG(p *plot.Plot, width, height vg.Length) (template.HTML, error) {
	c := vgsvg.New(width, height)
	p.Draw(draw.New(c))

	var buf bytes.Buffer
	if _, err := c.WriteTo(&buf); err != nil {
		return "", errors.Wrap(err, "rendering SVG")
	}
	return template.HTML(buf.String()), nil //nolint:gosec // self-generated SVG
}

var pageTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: Arial, sans-serif; margin: 0; padding: 20px; background-color: #f5f5f5; }
.header { text-align: center; color: #333; margin-bottom: 20px; }
.tabs { display: flex; flex-wrap: wrap; background: #fff; border-radius: 8px;
        box-shadow: 0 2px 4px rgba(0,0,0,0.1); overflow: hidden; margin-bottom: 20px; }
.tab-button { flex: 1; min-width: 120px; padding: 15px 20px; background: #f1f1f1;
              border: none; cursor: pointer; font-weight: bold; text-align: center; }
.tab-button:hover { background: #e0e0e0; }
.tab-button.active { background: #007bff; color: white; }
.tab-content { display: none; padding: 20px; background: white; border-radius: 0 0 8px 8px;
               box-shadow: 0 2px 4px rgba(0,0,0,0.1); overflow-x: auto; }
.tab-content.active { display: block; }
</style>
</head>
<body>
<h1 class="header">{{.Title}}</h1>
<div class="tabs">
{{- range $i, $t := .Tabs}}
<button class="tab-button{{if eq $i 0}} active{{end}}" onclick="openTab(event, 'tab{{$i}}')">{{$t.Name}}</button>
{{- end}}
</div>
{{- range $i, $t := .Tabs}}
<div id="tab{{$i}}" class="tab-content{{if eq $i 0}} active{{end}}">
{{$t.SVG}}
</div>
{{- end}}
<script>
function openTab(evt, tabId) {
  var contents = document.getElementsByClassName("tab-content");
  for (var i = 0; i < contents.length; i++) { contents[i].classList.remove("active"); }
  var buttons = document.getElementsByClassName("tab-button");
  for (var i = 0; i < buttons.length; i++) { buttons[i].classList.remove("active"); }
  document.getElementById(tabId).classList.add("active");
  evt.currentTarget.classList.add("active");
}
</script>
</body>
</html>
`))

// WriteTabbedHTML writes a tabbed report page to path, creating parent
// directories as needed.
func WriteTabbedHTML(path, title string, tabs []Tab) error {
	if len(tabs) == 0 {
		return errors.NewValueError("report.WriteTabbedHTML", "no tabs to render")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "creating report directory for %s", path)
	}

	var buf bytes.Buffer
	data := struct {
		Title string
		Tabs  []Tab
	}{Title: title, Tabs: tabs}
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return errors.Wrap(err, "executing report template")
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
