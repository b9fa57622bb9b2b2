package hub

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/houzhh15/xtts-webui/pkg/logger"
)

// UploadResult 上传结果
type UploadResult struct {
	Repo  string `json:"repo"`
	Files int    `json:"files"`
	Bytes int64  `json:"bytes"`
}

type commitLine struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type commitHeader struct {
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
}

type commitFile struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// UploadDataset 创建数据集仓库（若不存在）并在一次提交中上传 dir 下全部文件
// 隐藏文件和 .partial 暂存目录不会上传
func (c *Client) UploadDataset(ctx context.Context, repoID, dir string) (*UploadResult, error) {
	if !c.HasToken() {
		return nil, ErrNoToken
	}
	files, err := datasetFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("dataset %s has no files", filepath.Base(dir))
	}

	if err := c.CreateRepo(ctx, repoID, RepoDataset, false); err != nil {
		return nil, fmt.Errorf("create dataset repo %s: %w", repoID, err)
	}

	pr, pw := io.Pipe()
	written := make(chan int64, 1)
	go func() {
		n, err := writeCommit(pw, dir, files, "Upload dataset "+filepath.Base(dir))
		pw.CloseWithError(err)
		written <- n
	}()

	url := fmt.Sprintf("%s/api/datasets/%s/commit/main", c.endpoint, repoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := c.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("commit to %s failed: %w", repoID, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, fmt.Errorf("commit to %s: %w", repoID, err)
	}
	total := <-written

	logger.L().Info("dataset uploaded", "repo", repoID, "files", len(files), "bytes", total)
	return &UploadResult{Repo: repoID, Files: len(files), Bytes: total}, nil
}

// writeCommit 以 NDJSON 形式写出提交头和文件内容（base64）
func writeCommit(w io.Writer, dir string, files []string, summary string) (int64, error) {
	enc := json.NewEncoder(w)
	if err := enc.Encode(commitLine{Key: "header", Value: commitHeader{Summary: summary}}); err != nil {
		return 0, err
	}
	var total int64
	for _, rel := range files {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return total, err
		}
		total += int64(len(data))
		line := commitLine{Key: "file", Value: commitFile{
			Path:     rel,
			Content:  base64.StdEncoding.EncodeToString(data),
			Encoding: "base64",
		}}
		if err := enc.Encode(line); err != nil {
			return total, err
		}
	}
	return total, nil
}

// datasetFiles 返回 dir 下所有文件的相对路径（正斜杠），已排序
func datasetFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if path != dir && (strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".partial")) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
