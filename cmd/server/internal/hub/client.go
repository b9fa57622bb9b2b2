// Package hub 提供数据集托管服务（Hugging Face Hub 兼容 API）客户端
// 负责令牌校验、数据集仓库创建与提交，以及基础模型文件下载
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/houzhh15/xtts-webui/pkg/logger"
)

// RepoType 仓库类型
type RepoType string

const (
	RepoModel   RepoType = "model"
	RepoDataset RepoType = "dataset"
)

// Identity whoami-v2 返回的账户信息
type Identity struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Client 托管服务客户端
// 令牌通过 oauth2.StaticTokenSource 注入 Authorization 头
type Client struct {
	endpoint string
	base     *http.Client

	mu     sync.RWMutex
	token  string
	http   *http.Client
	whoami *Identity
}

// NewClient 创建客户端，token 可为空（公开仓库下载无需令牌）
func NewClient(endpoint, token string) *Client {
	c := &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		base:     &http.Client{Timeout: 0},
	}
	c.setToken(token)
	return c
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.whoami = nil
	if token == "" {
		c.http = c.base
		return
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, c.base)
	c.http = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
}

func (c *Client) client() *http.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.http
}

// HasToken 是否已配置令牌
func (c *Client) HasToken() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token != ""
}

// Identity 返回最近一次 Authenticate 成功的账户
func (c *Client) Identity() (*Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.whoami, c.whoami != nil
}

// Authenticate 校验令牌并在成功后替换客户端使用的令牌
func (c *Client) Authenticate(ctx context.Context, token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrNoToken
	}

	probe := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, c.base),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/api/whoami-v2", nil)
	if err != nil {
		return nil, err
	}
	resp, err := probe.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whoami request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var id Identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return nil, fmt.Errorf("failed to decode whoami response: %w", err)
	}

	c.setToken(token)
	c.mu.Lock()
	c.whoami = &id
	c.mu.Unlock()

	logger.L().Info("hub token verified", "account", id.Name)
	return &id, nil
}

// CreateRepo 创建仓库，已存在时视为成功
func (c *Client) CreateRepo(ctx context.Context, repoID string, typ RepoType, private bool) error {
	namespace, name, ok := strings.Cut(repoID, "/")
	if !ok || namespace == "" || name == "" {
		return fmt.Errorf("invalid repo id %q (expected owner/name)", repoID)
	}

	body := map[string]any{
		"name":         name,
		"organization": namespace,
		"private":      private,
	}
	if typ != RepoModel {
		body["type"] = string(typ)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/repos/create", strings.NewReader(string(data)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client().Do(req)
	if err != nil {
		return fmt.Errorf("create repo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return nil
	}
	return checkStatus(resp)
}

// resolveURL 构造文件下载地址
// model:   <endpoint>/<repo>/resolve/<revision>/<file>
// dataset: <endpoint>/datasets/<repo>/resolve/<revision>/<file>
func (c *Client) resolveURL(typ RepoType, repoID, revision, file string) string {
	if revision == "" {
		revision = "main"
	}
	prefix := ""
	if typ == RepoDataset {
		prefix = "/datasets"
	}
	return fmt.Sprintf("%s%s/%s/resolve/%s/%s", c.endpoint, prefix, repoID, url.PathEscape(revision), file)
}

// Download 下载模型仓库中的单个文件到 dst，先写入临时文件再重命名
func (c *Client) Download(ctx context.Context, repoID, revision, file, dst string) error {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolveURL(RepoModel, repoID, revision, file), nil)
	if err != nil {
		return err
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", file, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("download %s@%s/%s: %w", repoID, revision, file, err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	tmp := dst + ".download"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("download %s: %w", file, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}

	logger.L().Info("hub file downloaded", "repo", repoID, "revision", revision, "file", file,
		"bytes", n, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("hub API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
