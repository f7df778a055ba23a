package lifecycle

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Client 是一个页面实例（窗口）。Controller 为控制它的 worker 版本，空串表示未受控。
type Client struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Controller string    `json:"controller,omitempty"`
	Focused    bool      `json:"focused"`
	AttachedAt time.Time `json:"attachedAt"`
}

// Clients 记录站点作用域内的页面实例。
type Clients struct {
	mu    sync.Mutex
	items map[string]*Client
}

func NewClients() *Clients {
	return &Clients{items: make(map[string]*Client)}
}

// Attach 登记一个页面实例。
func (c *Clients) Attach(url, controller string) Client {
	client := &Client{
		ID:         uuid.NewString(),
		URL:        url,
		Controller: controller,
		AttachedAt: time.Now().UTC(),
	}
	c.mu.Lock()
	c.items[client.ID] = client
	c.mu.Unlock()
	return *client
}

// Detach 移除页面实例，返回其是否存在。
func (c *Clients) Detach(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[id]; !ok {
		return false
	}
	delete(c.items, id)
	return true
}

// Get 按 ID 查找页面实例。
func (c *Clients) Get(id string) (Client, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	client, ok := c.items[id]
	if !ok {
		return Client{}, false
	}
	return *client, true
}

// List 按登记时间返回全部页面实例。
func (c *Clients) List() []Client {
	c.mu.Lock()
	result := make([]Client, 0, len(c.items))
	for _, client := range c.items {
		result = append(result, *client)
	}
	c.mu.Unlock()
	sort.Slice(result, func(i, j int) bool {
		if result[i].AttachedAt.Equal(result[j].AttachedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].AttachedAt.Before(result[j].AttachedAt)
	})
	return result
}

// Claim 让 version 接管所有页面实例，返回控制者发生变化的数量。
func (c *Clients) Claim(version string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := 0
	for _, client := range c.items {
		if client.Controller != version {
			client.Controller = version
			changed++
		}
	}
	return changed
}

// FindByURL 返回第一个正在显示 url 的页面实例。
func (c *Clients) FindByURL(url string) (Client, bool) {
	for _, client := range c.List() {
		if client.URL == url {
			return client, true
		}
	}
	return Client{}, false
}

// Focus 聚焦指定页面实例，其余实例失去焦点。
func (c *Clients) Focus(id string) (Client, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	target, ok := c.items[id]
	if !ok {
		return Client{}, false
	}
	for _, client := range c.items {
		client.Focused = false
	}
	target.Focused = true
	return *target, true
}

// Open 打开新窗口并聚焦。
func (c *Clients) Open(url, controller string) Client {
	client := c.Attach(url, controller)
	focused, _ := c.Focus(client.ID)
	return focused
}
