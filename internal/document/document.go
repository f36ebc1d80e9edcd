package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/net/html"
)

// ErrEmpty 文档内容为空。
var ErrEmpty = errors.New("document data is empty")

const (
	mimeHTML  = "text/html"
	mimePlain = "text/plain"
)

// Payload 为发送给文本理解服务的文档内容。
type Payload struct {
	Name     string
	MIMEType string
	Data     []byte
}

// DetectMIME 声明类型缺失或过于笼统时按内容嗅探。
func DetectMIME(declared string, data []byte) string {
	declared = baseMIME(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return baseMIME(mimetype.Detect(data).String())
}

func baseMIME(v string) string {
	v, _, _ = strings.Cut(v, ";")
	return strings.ToLower(strings.TrimSpace(v))
}

// Prepare 校验并规范化文档；HTML 会被展平为纯文本。
func Prepare(p Payload) (Payload, error) {
	if len(p.Data) == 0 {
		return Payload{}, fmt.Errorf("prepare %s: %w", p.Name, ErrEmpty)
	}
	p.MIMEType = DetectMIME(p.MIMEType, p.Data)
	if p.MIMEType != mimeHTML {
		return p, nil
	}
	text, err := HTMLToText(bytes.NewReader(p.Data))
	if err != nil {
		return Payload{}, fmt.Errorf("flatten html %s: %w", p.Name, err)
	}
	if strings.TrimSpace(text) == "" {
		return Payload{}, fmt.Errorf("flatten html %s: %w", p.Name, ErrEmpty)
	}
	return Payload{Name: p.Name, MIMEType: mimePlain, Data: []byte(text)}, nil
}

var blockElements = map[string]struct{}{
	"p": {}, "div": {}, "br": {}, "li": {}, "tr": {}, "section": {}, "article": {},
	"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {}, "ul": {}, "ol": {}, "table": {},
}

// HTMLToText 提取可见文本，块级元素之间换行，忽略 script/style。
func HTMLToText(r io.Reader) (string, error) {
	root, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "head") {
			return
		}
		if n.Type == html.TextNode {
			if text := strings.Join(strings.Fields(n.Data), " "); text != "" {
				if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
					b.WriteString(" ")
				}
				b.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode {
			if _, ok := blockElements[n.Data]; ok && b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
				b.WriteString("\n")
			}
		}
	}
	walk(root)
	return strings.TrimSpace(b.String()), nil
}

// BaseName 去掉扩展名的文件名，用于候选人名称兜底。
func BaseName(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}
