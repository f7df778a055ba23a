// Package push 将推送负载转换为通知，并处理通知点击后的页面聚焦或打开。
package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/brightway/pwa-edge/internal/lifecycle"
	"github.com/brightway/pwa-edge/internal/logging"
)

// ErrNotificationNotFound 表示通知不存在或已被关闭。
var ErrNotificationNotFound = errors.New("notification not found")

// Payload 是推送消息体：{title, body, icon, data:{url}}。
type Payload struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Icon  string         `json:"icon"`
	Data  map[string]any `json:"data,omitempty"`
}

// Defaults 是负载缺省字段与固定展示参数。
type Defaults struct {
	Title   string
	Body    string
	Icon    string
	Badge   string
	Tag     string
	Vibrate []int
}

// Notification 是一条已展示的通知。
type Notification struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Icon      string         `json:"icon"`
	Badge     string         `json:"badge"`
	Tag       string         `json:"tag"`
	Vibrate   []int          `json:"vibrate"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ClickResult 描述点击后被聚焦或新打开的页面。
type ClickResult struct {
	URL    string           `json:"url"`
	Client lifecycle.Client `json:"client"`
	Opened bool             `json:"opened"`
}

// Center 持有站点当前展示的通知，同一 tag 的新通知会替换旧通知。
type Center struct {
	reg      *lifecycle.Registration
	defaults Defaults
	logger   *logrus.Logger

	mu    sync.Mutex
	items map[string]Notification
}

func NewCenter(reg *lifecycle.Registration, defaults Defaults, logger *logrus.Logger) *Center {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Center{
		reg:      reg,
		defaults: defaults,
		logger:   logger,
		items:    make(map[string]Notification),
	}
}

// ParsePayload 解析推送正文，空正文视为使用全部默认值。
func ParsePayload(raw []byte) (Payload, error) {
	var payload Payload
	if len(strings.TrimSpace(string(raw))) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, fmt.Errorf("invalid push payload: %w", err)
	}
	return payload, nil
}

// Show 将负载转换为通知并展示。
func (c *Center) Show(payload Payload) Notification {
	n := Notification{
		ID:        uuid.NewString(),
		Title:     fallback(payload.Title, c.defaults.Title),
		Body:      fallback(payload.Body, c.defaults.Body),
		Icon:      fallback(payload.Icon, c.defaults.Icon),
		Badge:     c.defaults.Badge,
		Tag:       c.defaults.Tag,
		Vibrate:   append([]int(nil), c.defaults.Vibrate...),
		Data:      payload.Data,
		CreatedAt: time.Now().UTC(),
	}
	if n.Data == nil {
		n.Data = map[string]any{}
	}

	c.mu.Lock()
	if n.Tag != "" {
		for id, existing := range c.items {
			if existing.Tag == n.Tag {
				delete(c.items, id)
			}
		}
	}
	c.items[n.ID] = n
	c.mu.Unlock()

	c.logger.WithFields(logging.SiteFields(c.reg.Site(), "")).
		WithFields(logrus.Fields{"notification_id": n.ID, "tag": n.Tag}).
		Info("notification_shown")
	return n
}

// List 按展示时间返回当前通知。
func (c *Center) List() []Notification {
	c.mu.Lock()
	result := make([]Notification, 0, len(c.items))
	for _, n := range c.items {
		result = append(result, n)
	}
	c.mu.Unlock()
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result
}

// Click 关闭通知并解析目标地址：已有页面显示该地址时聚焦它，否则打开新页面。
func (c *Center) Click(id, action string) (ClickResult, error) {
	c.mu.Lock()
	n, ok := c.items[id]
	if ok {
		delete(c.items, id)
	}
	c.mu.Unlock()
	if !ok {
		return ClickResult{}, ErrNotificationNotFound
	}

	target := c.absolute(ResolveURL(n.Data, action))
	clients := c.reg.Clients()
	result := ClickResult{URL: target}
	if existing, found := clients.FindByURL(target); found {
		result.Client, _ = clients.Focus(existing.ID)
	} else {
		controller := ""
		if w := c.reg.Controller(); w != nil {
			controller = w.Version()
		}
		result.Client = clients.Open(target, controller)
		result.Opened = true
	}

	c.logger.WithFields(logging.SiteFields(c.reg.Site(), "")).
		WithFields(logrus.Fields{"notification_id": id, "action": action, "url": target, "opened": result.Opened}).
		Info("notification_clicked")
	return result, nil
}

// ResolveURL 依次使用 data.url、action（contact/services）与根路径。
func ResolveURL(data map[string]any, action string) string {
	if raw, ok := data["url"].(string); ok && raw != "" {
		return raw
	}
	switch action {
	case "contact":
		return "/#contact"
	case "services":
		return "/#services"
	default:
		return "/"
	}
}

func (c *Center) absolute(target string) string {
	ref, err := url.Parse(target)
	if err != nil {
		return target
	}
	return c.reg.Scope().ResolveReference(ref).String()
}

func fallback(value, def string) string {
	if value == "" {
		return def
	}
	return value
}
