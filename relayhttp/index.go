package relayhttp

import (
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

const indexTemplateName = "index.html"

// defaultIndexHTML keeps the server usable with no template directory
// configured. Deployments that want a real transfer UI point
// WithTemplateDir at their own index.html.
const defaultIndexHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>{{.ServerName}}</title>
</head>
<body>
  <h1>{{.ServerName}}</h1>
  <p>This is a rendezvous relay for direct file transfers.</p>
  <p>POST <code>/generate_otp</code> to get a pairing code, then connect both
  devices to <code>/ws/{client_id}</code> and register the code.</p>
</body>
</html>
`

type indexData struct {
	ServerName string
}

// indexPage renders the landing page. When a template directory is
// configured, index.html is parsed from disk and re-parsed whenever fsnotify
// reports a change; parse failures keep the last good template.
type indexPage struct {
	log        *slog.Logger
	serverName string
	dir        string

	mu  sync.RWMutex
	tpl *template.Template

	watcher *fsnotify.Watcher
}

func newIndexPage(dir, serverName string, log *slog.Logger) (*indexPage, error) {
	tpl, err := template.New(indexTemplateName).Parse(defaultIndexHTML)
	if err != nil {
		return nil, fmt.Errorf("parse default index template: %w", err)
	}
	p := &indexPage{log: log, serverName: serverName, dir: dir, tpl: tpl}
	if dir == "" {
		return p, nil
	}

	if err := p.reload(); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Debug("fsnotify unavailable, template hot-reload disabled", slog.String("err", err.Error()))
		return p, nil
	}
	if err := w.Add(dir); err != nil {
		log.Debug("fsnotify add failed, template hot-reload disabled", slog.String("err", err.Error()))
		_ = w.Close()
		return p, nil
	}
	p.watcher = w
	go p.watch()
	return p, nil
}

func (p *indexPage) reload() error {
	path := filepath.Join(p.dir, indexTemplateName)
	tpl, err := template.ParseFiles(path)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	p.mu.Lock()
	p.tpl = tpl
	p.mu.Unlock()
	return nil
}

func (p *indexPage) watch() {
	for {
		select {
		case ev, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != indexTemplateName {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := p.reload(); err != nil {
				p.log.Warn("index template reload failed, keeping previous", slog.String("err", err.Error()))
				continue
			}
			p.log.Info("index template reloaded")
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.log.Debug("fsnotify error", slog.String("err", err.Error()))
		}
	}
}

func (p *indexPage) render(w http.ResponseWriter) {
	p.mu.RLock()
	tpl := p.tpl
	p.mu.RUnlock()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tpl.Execute(w, indexData{ServerName: p.serverName}); err != nil {
		p.log.Warn("render index", slog.String("err", err.Error()))
	}
}

func (p *indexPage) Close() error {
	if p.watcher != nil {
		return p.watcher.Close()
	}
	return nil
}
