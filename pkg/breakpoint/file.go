package breakpoint

import (
	"fmt"
	"io/ioutil"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Spec 断点文件中的一项，file+line描述行断点，function描述函数断点
type Spec struct {
	File      string `yaml:"file,omitempty"`
	Line      int    `yaml:"line,omitempty"`
	Function  string `yaml:"function,omitempty"`
	Condition string `yaml:"condition,omitempty"`
	Enabled   *bool  `yaml:"enabled,omitempty"`
	Hidden    bool   `yaml:"hidden,omitempty"`
}

type specFile struct {
	Breakpoints []Spec `yaml:"breakpoints"`
}

// IsEnabled treats a missing enabled key as true.
func (s Spec) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

func (s Spec) key() string {
	if s.Function != "" {
		return "func:" + s.Function
	}
	return fmt.Sprintf("line:%s:%d", s.File, s.Line)
}

func keyOf(bp Breakpoint) string {
	switch b := bp.(type) {
	case *LineBreakpoint:
		return fmt.Sprintf("line:%s:%d", b.URL(), b.Line())
	case *FunctionBreakpoint:
		return "func:" + b.Function()
	}
	return ""
}

// FileURL 将文件路径转换为file://形式的url
func FileURL(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String()
}

// URLToPath 将file://形式的url转换为本地绝对路径
func URLToPath(rawurl string) (string, error) {
	if rawurl == "" {
		return "", fmt.Errorf("empty url")
	}
	u, err := url.Parse(rawurl)
	if err != nil {
		return "", fmt.Errorf("parse url %s: %w", rawurl, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("not a file url: %s", rawurl)
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", fmt.Errorf("remote file url: %s", rawurl)
	}
	if u.Path == "" {
		return "", fmt.Errorf("file url without path: %s", rawurl)
	}
	return filepath.Clean(filepath.FromSlash(u.Path)), nil
}

// LoadFile 读取yaml格式的断点文件，相对路径按断点文件所在目录解析，file字段被转换为url
func LoadFile(path string) ([]Spec, error) {
	dat, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSpecs(dat, filepath.Dir(path))
}

// ParseSpecs parses a breakpoints document, dir anchors relative file entries.
func ParseSpecs(dat []byte, dir string) ([]Spec, error) {
	var f specFile
	if err := yaml.Unmarshal(dat, &f); err != nil {
		return nil, fmt.Errorf("parse breakpoints: %w", err)
	}

	specs := make([]Spec, 0, len(f.Breakpoints))
	for i, s := range f.Breakpoints {
		switch {
		case s.Function != "" && s.File != "":
			return nil, fmt.Errorf("breakpoint #%d: both file and function set", i+1)
		case s.Function != "":
		case s.File == "":
			return nil, fmt.Errorf("breakpoint #%d: file or function required", i+1)
		case s.Line < 1:
			return nil, fmt.Errorf("breakpoint #%d: invalid line %d", i+1, s.Line)
		default:
			file := s.File
			if !filepath.IsAbs(file) {
				file = filepath.Join(dir, file)
			}
			s.File = FileURL(file)
		}
		specs = append(specs, s)
	}
	return specs, nil
}

// SaveFile 将断点写回yaml文件，位于文件所在目录下的源文件使用相对路径
func SaveFile(path string, bps []Breakpoint) error {
	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return err
	}

	var f specFile
	for _, bp := range bps {
		s := Spec{Condition: bp.Condition(), Hidden: bp.Hidden()}
		if !bp.Enabled() {
			disabled := false
			s.Enabled = &disabled
		}

		switch b := bp.(type) {
		case *LineBreakpoint:
			file, err := URLToPath(b.URL())
			if err != nil {
				file = b.URL()
			} else if rel, err := filepath.Rel(dir, file); err == nil && !strings.HasPrefix(rel, "..") {
				file = filepath.ToSlash(rel)
			}
			s.File = file
			s.Line = b.Line()
		case *FunctionBreakpoint:
			s.Function = b.Function()
		}
		f.Breakpoints = append(f.Breakpoints, s)
	}

	dat, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("marshal breakpoints: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return ioutil.WriteFile(path, dat, 0644)
}

// ApplyResult 一次同步的统计信息
type ApplyResult struct {
	Added   int
	Updated int
	Removed int
}

// Apply 使管理器中的断点与specs一致，位置相同的断点原地修改属性，多余的移除，缺少的添加
//
// Several breakpoints may share a location, each spec claims at most one of
// them and the unclaimed rest are removed.
func (m *Manager) Apply(specs []Spec) ApplyResult {
	var res ApplyResult

	existing := map[string][]Breakpoint{}
	for _, bp := range m.Breakpoints() {
		k := keyOf(bp)
		existing[k] = append(existing[k], bp)
	}

	wanted := map[string]bool{}
	for _, s := range specs {
		k := s.key()
		if wanted[k] {
			continue
		}
		wanted[k] = true

		if bps := existing[k]; len(bps) > 0 {
			if updateFromSpec(bps[0], s) {
				res.Updated++
			}
			existing[k] = bps[1:]
			continue
		}

		m.Add(newFromSpec(s))
		res.Added++
	}

	var stale Breakpoints
	for _, bps := range existing {
		stale = append(stale, bps...)
	}
	sort.Sort(stale)
	for _, bp := range stale {
		if _, err := m.Remove(bp.ID()); err == nil {
			res.Removed++
		}
	}
	return res
}

func newFromSpec(s Spec) Breakpoint {
	if s.Function != "" {
		bp := NewFunctionBreakpoint(s.Function)
		bp.condition = s.Condition
		bp.enabled = s.IsEnabled()
		bp.hidden = s.Hidden
		return bp
	}
	bp := NewLineBreakpoint(s.File, s.Line)
	bp.condition = s.Condition
	bp.enabled = s.IsEnabled()
	bp.hidden = s.Hidden
	return bp
}

type settable interface {
	Breakpoint
	SetEnabled(bool)
	SetCondition(string)
	SetHidden(bool)
}

func updateFromSpec(bp Breakpoint, s Spec) bool {
	b, ok := bp.(settable)
	if !ok {
		return false
	}
	changed := b.Condition() != s.Condition || b.Enabled() != s.IsEnabled() || b.Hidden() != s.Hidden
	b.SetCondition(s.Condition)
	b.SetEnabled(s.IsEnabled())
	b.SetHidden(s.Hidden)
	return changed
}
