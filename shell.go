package quill

import "github.com/a-h/templ"

// shell renders the document shell for the App's title, client script and
// codec. The markup lives in shell.templ.
func (a *App) shell() templ.Component {
	return shellPage(a.cfg.Title, a.cfg.ClientScript, a.codec.Name())
}
