package publisher

import (
	"encoding/json"

	"tradedesk/internal/models"
)

// Expressions evaluated against the window.tradedesk bridge on the host page.
const (
	jsReady   = `(window.tradedesk ? window.tradedesk.ready() : false)`
	jsClear   = `window.tradedesk.clear()`
	jsCount   = `window.tradedesk.count()`
	jsArm     = `window.tradedesk.armFinished()`
	jsPublish = `window.tradedesk.publish()`
	jsDrain   = `(window.tradedesk ? window.tradedesk.drain() : {focus: 0, finished: []})`
)

func jsAdd(leg models.OrderLeg) (string, error) {
	b, err := json.Marshal(leg)
	if err != nil {
		return "", err
	}
	return "window.tradedesk.add(" + string(b) + ")", nil
}

func jsClick(attrs map[string]string) (string, error) {
	b, err := json.Marshal(attrs)
	if err != nil {
		return "", err
	}
	return "window.tradedesk.click(" + string(b) + ")", nil
}

// pageState is what drain() returns.
type pageState struct {
	Focus    int      `json:"focus"`
	Finished []string `json:"finished"`
}
