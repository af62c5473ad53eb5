package backend

import (
	"bytes"
	"encoding/json"
	"text/template"
)

var electronDriver = template.Must(template.New("driver.js").Funcs(template.FuncMap{
	"quote": jsString,
}).Parse(`const {app, BrowserWindow} = require('electron')
const {writeFile} = require('fs')
const readline = require('readline')

const reply = (...words) => process.stdout.write(words.join(' ') + '\n')
const fail = (err) => reply('error', String(err).replace(/\s+/g, ' '))

app.commandLine.appendSwitch('force-device-scale-factor', '1')
app.dock && app.dock.hide()

app.on('ready', () => {
  const browser = new BrowserWindow({
    width: {{.Edge}},
    height: {{.Edge}},
    useContentSize: true,
    show: false,
    enableLargerThanScreen: true,
  })
  const page = browser.webContents

  browser.once('ready-to-show', () => reply('ready'))
  page.on('did-fail-load', (event, code, description) => fail(description))

  const lines = readline.createInterface({input: process.stdin})
  lines.on('line', (line) => {
    const verb = line.trim().split(/\s+/)[0]
    const rest = line.trim().slice(verb.length).trim()
    switch (verb) {
    case 'goto':
      const [x, y] = rest.split(/\s+/).map(Number)
      page.executeJavaScript('window.scrollTo(' + x + ', ' + y + ')')
        .then(() => new Promise((resolve) => setTimeout(resolve, {{.SettleMillis}})))
        .then(() => page.executeJavaScript('[window.scrollX, window.scrollY]'))
        .then(([x, y]) => reply('here', Math.round(x), Math.round(y)))
        .catch(fail)
      break
    case 'capture':
      page.capturePage()
        .then((image) => writeFile(rest, image.toPNG(), (err) => err ? fail(err) : reply('captured', rest)))
        .catch(fail)
      break
    case 'exit':
      app.exit(0)
      break
    default:
      fail('unknown command ' + verb)
    }
  })
  lines.on('close', () => app.exit(0))

  browser.loadURL({{quote .DocumentURL}})
})
`))

// Electron scrolls a hidden electron window over the document and captures
// it one tile at a time
func Electron(executable string, opts Options) Backend {
	return NewProtocolBackend(ProtocolSpec{
		Name:   "electron",
		Script: electronScript,
		Args: func(inv ProtocolInvocation) []string {
			return []string{inv.Script}
		},
	}, executable, opts)
}

func electronScript(inv ProtocolInvocation) (string, error) {
	var buf bytes.Buffer
	err := electronDriver.Execute(&buf, struct {
		ProtocolInvocation
		SettleMillis int64
	}{inv, inv.SettleDelay.Milliseconds()})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// jsString quotes s as a javascript string literal
func jsString(s string) string {
	data, err := json.Marshal(s)
	if err != nil {
		// strings always marshal
		panic(err)
	}
	return string(data)
}
