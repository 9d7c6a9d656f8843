package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

var (
	ErrUnknownTool   = errors.New("unknown tool")
	ErrDuplicateTool = errors.New("duplicate tool")
)

// Registry 为按注册顺序排列、名称唯一的工具目录。
type Registry struct {
	order []*schema.ToolInfo
	tools map[string]tool.InvokableTool
}

func NewRegistry(ctx context.Context, tools ...tool.InvokableTool) (*Registry, error) {
	r := &Registry{tools: make(map[string]tool.InvokableTool, len(tools))}
	for _, t := range tools {
		if err := r.Register(ctx, t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(ctx context.Context, t tool.InvokableTool) error {
	info, err := t.Info(ctx)
	if err != nil {
		return fmt.Errorf("get tool info failed: %w", err)
	}
	if info == nil || info.Name == "" {
		return errors.New("tool info must have a name")
	}
	if _, ok := r.tools[info.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, info.Name)
	}
	r.tools[info.Name] = t
	r.order = append(r.order, info)
	return nil
}

// Lookup 按名称精确查找工具。
func (r *Registry) Lookup(name string) (tool.InvokableTool, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return t, nil
}

// Tools 按注册顺序返回工具信息。
func (r *Registry) Tools() []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, len(r.order))
	copy(out, r.order)
	return out
}

// Catalog 渲染 "name: description" 行，供提示词中的 TOOLS 段使用。
func (r *Registry) Catalog() string {
	lines := make([]string, len(r.order))
	for i, info := range r.order {
		lines[i] = info.Name + ": " + info.Desc
	}
	return strings.Join(lines, "\n")
}

// Names 渲染逗号分隔的可用工具名。
func (r *Registry) Names() string {
	names := make([]string, len(r.order))
	for i, info := range r.order {
		names[i] = info.Name
	}
	return strings.Join(names, ", ")
}
