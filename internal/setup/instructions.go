// Package setup renders the instructions a room member needs to point Home
// Assistant at this gateway.
package setup

import (
	"bytes"
	"strings"
	"text/template"
)

// DefaultPluginPath is the path prefix under which the push endpoint is
// reachable from outside.
const DefaultPluginPath = "_matrix/maubot/plugin/hasswebhook"

const sampleBody = `{\"message\": \"Foo bar\", \"type\": \"message\", \"identifier\": \"foo.bar\"}`

var markdownTemplate = template.Must(template.New("setup").Delims("[[", "]]").Parse(
	"Your webhook-URL is:\n" +
		"[[.URL]]\n\n" +
		"Write this in your `configuration.yaml` on HA (don't forget to reload):\n" +
		"```yaml\n" +
		"notify:\n" +
		"  - name: HASS_MAUBOT\n" +
		"    platform: rest\n" +
		"    resource: \"[[.URL]]\"\n" +
		"    method: POST_JSON\n" +
		"    data:\n" +
		"      type: \"{{data.type}}\"\n" +
		"      identifier: \"{{data.identifier}}\"\n" +
		"      callback_url: \"{{data.callback_url}}\"\n" +
		"      lifetime: \"{{data.lifetime}}\"\n" +
		"```\n\n" +
		"Use this yaml to send a notification from homeassistant:\n" +
		"```yaml\n" +
		"service: notify.hass_maubot\n" +
		"data:\n" +
		"  message: The mail is here! 📬\n" +
		"  data:\n" +
		"    type: message / reaction / redaction / edit\n" +
		"    identifier: letterbox.status / event_id.$xyz\n" +
		"    callback_url: https://<your homeassistant instance>/api/webhook/<some_hook_id>\n" +
		"    lifetime: 60\n" +
		"```\n\n" +
		"Use this to redact the last message with a given identifier:\n" +
		"```yaml\n" +
		"service: notify.hass_maubot\n" +
		"data:\n" +
		"  message: None\n" +
		"  data:\n" +
		"    type: redaction\n" +
		"    identifier: letterbox.status\n" +
		"```\n\n" +
		"Use this to test the webhook via cli:\n" +
		"```zsh\n" +
		"curl -d \"[[.Sample]]\" -X POST \"[[.CLIURL]]\"\n" +
		"```\n",
))

// Instructions describes how to reach the push endpoint of one room.
type Instructions struct {
	url    string
	cliURL string
}

// New builds the instructions for roomID. An empty pluginPath selects
// DefaultPluginPath.
func New(baseURL, pluginPath, roomID string) *Instructions {
	if pluginPath == "" {
		pluginPath = DefaultPluginPath
	}
	base := strings.TrimRight(baseURL, "/") + "/" + strings.Trim(pluginPath, "/") + "/push/"
	return &Instructions{
		url: base + roomID,
		// Shells expand "!" in double quotes.
		cliURL: base + strings.ReplaceAll(roomID, "!", `\!`),
	}
}

// URL returns the webhook URL of the room.
func (i *Instructions) URL() string {
	return i.url
}

// Plain returns the single-line form.
func (i *Instructions) Plain() string {
	return "Your Webhook-URL is: " + i.url
}

// Markdown returns the full instructions including Home Assistant YAML and a
// curl example.
func (i *Instructions) Markdown() string {
	var buf bytes.Buffer
	err := markdownTemplate.Execute(&buf, struct {
		URL, CLIURL, Sample string
	}{i.url, i.cliURL, sampleBody})
	if err != nil {
		// Only fails on a broken template, which Must already rejects.
		panic(err)
	}
	return buf.String()
}

func (i *Instructions) String() string {
	return i.Markdown()
}
