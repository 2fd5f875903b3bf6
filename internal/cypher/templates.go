// Package cypher 内嵌图投影使用的 Cypher 语句。
package cypher

import (
	"embed"
	"fmt"
	"strings"
	"sync"
	"text/template"
)

//go:embed *.cql
var files embed.FS

var (
	mu    sync.Mutex
	cache = make(map[string]*template.Template)
)

// Render 渲染模板，解析结果按名称缓存。
func Render(name string, data any) (string, error) {
	mu.Lock()
	tmpl, ok := cache[name]
	if !ok {
		var err error
		tmpl, err = template.New(name).ParseFS(files, name)
		if err != nil {
			mu.Unlock()
			return "", fmt.Errorf("parse template %s failed: %w", name, err)
		}
		cache[name] = tmpl
	}
	mu.Unlock()

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("execute template %s failed: %w", name, err)
	}
	return sb.String(), nil
}

// MustTemplate 同 Render，失败直接 panic，模板是内嵌资源，出错只可能是代码问题。
func MustTemplate(name string, data any) string {
	q, err := Render(name, data)
	if err != nil {
		panic(err)
	}
	return q
}

// MustAsset 返回模板原文。
func MustAsset(name string) string {
	b, err := files.ReadFile(name)
	if err != nil {
		panic(fmt.Errorf("load %s failed: %w", name, err))
	}
	return string(b)
}

// Statements 按分号拆分多语句脚本，去掉空语句。
func Statements(name string) []string {
	var out []string
	for _, raw := range strings.Split(MustAsset(name), ";") {
		if q := strings.TrimSpace(raw); q != "" {
			out = append(out, q)
		}
	}
	return out
}
