package main

import (
	"fmt"

	"rfidprog/tags"
)

// Status topic scheme: rfid/status/<client_id>/<kind>.

func (app *App) statusTopic(kind string) string {
	return fmt.Sprintf("rfid/status/%s/%s", app.cfg.ClientID, kind)
}

func (app *App) publishConnection(connected bool) {
	state := 0
	if connected {
		state = 1
	}
	app.mqtt.Publish(app.statusTopic("connection"),
		fmt.Sprintf(`{"connected":%d}`, state))
}

func (app *App) publishTagCount(count int) {
	app.mqtt.Publish(app.statusTopic("count"),
		fmt.Sprintf(`{"tags":%d}`, count))
}

func (app *App) publishCurrentTag(tag *tags.Tag) {
	if tag == nil {
		app.mqtt.Publish(app.statusTopic("current"), `{"present":0}`)
		return
	}
	app.mqtt.Publish(app.statusTopic("current"),
		fmt.Sprintf(`{"present":1,"tid":"%s","epc":"%s"}`,
			tags.FormatHex(tag.TID), tags.FormatHex(tag.EPC)))
}
