// Package notify delivers the pass report to the operator. Delivery is
// best-effort: failures are logged and swallowed, never retried, because the
// report has already been computed by the time we get here.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/example/punch-scheduler/internal/store"
)

// Title is the fixed message title the operator sees.
const Title = "班级魔法自动签到任务"

const (
	defaultWeComBase    = "https://qyapi.weixin.qq.com"
	defaultPushPlusBase = "https://www.pushplus.plus"
)

// Dispatcher picks the enterprise WeCom channel when fully configured and
// falls back to PushPlus otherwise. With neither configured, Dispatch is a
// silent no-op.
type Dispatcher struct {
	hc  *http.Client
	log *logrus.Entry

	wecomBase    string
	pushplusBase string
}

type Option func(*Dispatcher)

// WithBaseURLs overrides the channel endpoints, for tests.
func WithBaseURLs(wecom, pushplus string) Option {
	return func(d *Dispatcher) {
		d.wecomBase = wecom
		d.pushplusBase = pushplus
	}
}

func NewDispatcher(log *logrus.Entry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		hc:           &http.Client{Timeout: 15 * time.Second},
		log:          log,
		wecomBase:    defaultWeComBase,
		pushplusBase: defaultPushPlusBase,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch sends content through the first usable channel. It never returns
// an error to the caller; the orchestration pass must not be affected.
func (d *Dispatcher) Dispatch(ctx context.Context, settings store.Settings, content string) {
	switch {
	case settings.WeCom.Complete():
		d.sendWeCom(ctx, settings.WeCom, content)
	case settings.PushPlusToken != "":
		d.sendPushPlus(ctx, settings.PushPlusToken, content)
	default:
		// no channel configured
	}
}

type wecomTokenResponse struct {
	ErrCode     int    `json:"errcode"`
	ErrMsg      string `json:"errmsg"`
	AccessToken string `json:"access_token"`
}

type wecomSendResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func (d *Dispatcher) sendWeCom(ctx context.Context, w store.WeCom, content string) {
	tokenURL := fmt.Sprintf("%s/cgi-bin/gettoken?corpid=%s&corpsecret=%s",
		d.wecomBase, url.QueryEscape(w.CorpID), url.QueryEscape(w.Secret))

	var tok wecomTokenResponse
	if err := d.getJSON(ctx, tokenURL, &tok); err != nil {
		d.log.WithError(err).Warn("wecom token request failed")
		return
	}
	if tok.ErrCode != 0 {
		d.log.WithFields(logrus.Fields{"errcode": tok.ErrCode, "errmsg": tok.ErrMsg}).
			Warn("wecom token rejected")
		return
	}

	payload := map[string]any{
		"touser":  w.ToUser,
		"msgtype": "text",
		"agentid": w.AgentID,
		"text":    map[string]string{"content": Title + "\n" + content},
		"safe":    0,
	}
	sendURL := fmt.Sprintf("%s/cgi-bin/message/send?access_token=%s", d.wecomBase, url.QueryEscape(tok.AccessToken))

	var res wecomSendResponse
	if err := d.postJSON(ctx, sendURL, payload, &res); err != nil {
		d.log.WithError(err).Warn("wecom send failed")
		return
	}
	if res.ErrCode != 0 {
		d.log.WithFields(logrus.Fields{"errcode": res.ErrCode, "errmsg": res.ErrMsg}).
			Warn("wecom send rejected")
		return
	}
	d.log.Debug("report delivered via wecom")
}

func (d *Dispatcher) sendPushPlus(ctx context.Context, token, content string) {
	payload := map[string]string{
		"token":   token,
		"title":   Title,
		"content": content,
	}
	if err := d.postJSON(ctx, d.pushplusBase+"/send", payload, nil); err != nil {
		d.log.WithError(err).Warn("pushplus send failed")
		return
	}
	d.log.Debug("report delivered via pushplus")
}

func (d *Dispatcher) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	return d.doJSON(req, out)
}

func (d *Dispatcher) postJSON(ctx context.Context, rawURL string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return d.doJSON(req, out)
}

func (d *Dispatcher) doJSON(req *http.Request, out any) error {
	res, err := d.hc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		return fmt.Errorf("status %d", res.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}
