package mailsource

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"mailtriage/internal/model"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

// NodeKind MIME 节点类型
type NodeKind int

const (
	NodeContainer NodeKind = iota
	NodeText
	NodeHTML
	NodeAttachment
)

func (k NodeKind) String() string {
	switch k {
	case NodeContainer:
		return "container"
	case NodeText:
		return "text"
	case NodeHTML:
		return "html"
	case NodeAttachment:
		return "attachment"
	default:
		return "unknown"
	}
}

// maxLeafBytes caps how much of a single text part is kept.
const maxLeafBytes = 1 << 20

// Node is one part of a MIME message. Containers carry Children, text and
// html leaves carry decoded Content, attachments only metadata.
type Node struct {
	Kind      NodeKind
	MediaType string
	Filename  string
	Size      int64
	Content   string
	Children  []*Node
}

// Limits bounds the tree so hostile nesting cannot exhaust memory.
type Limits struct {
	MaxDepth int
	MaxNodes int
}

func DefaultLimits() Limits {
	return Limits{MaxDepth: 16, MaxNodes: 256}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxDepth <= 0 {
		l.MaxDepth = d.MaxDepth
	}
	if l.MaxNodes <= 0 {
		l.MaxNodes = d.MaxNodes
	}
	return l
}

// Tree MIME 树
type Tree struct {
	Root  *Node
	Nodes int
	// Truncated is set when a depth or node limit cut parts off.
	Truncated bool
}

// Walk visits nodes in document order (pre-order). Returning false stops the walk.
func (t *Tree) Walk(fn func(n *Node, depth int) bool) {
	if t == nil || t.Root == nil {
		return
	}
	type item struct {
		n     *Node
		depth int
	}
	stack := []item{{t.Root, 0}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(it.n, it.depth) {
			return
		}
		for i := len(it.n.Children) - 1; i >= 0; i-- {
			stack = append(stack, item{it.n.Children[i], it.depth + 1})
		}
	}
}

// Body returns the first non-empty plain text part, else the first html part.
func (t *Tree) Body() (string, bool) {
	var text, html string
	t.Walk(func(n *Node, _ int) bool {
		switch n.Kind {
		case NodeText:
			if text == "" && strings.TrimSpace(n.Content) != "" {
				text = n.Content
			}
		case NodeHTML:
			if html == "" && strings.TrimSpace(n.Content) != "" {
				html = n.Content
			}
		}
		return text == ""
	})
	if text != "" {
		return text, false
	}
	return html, html != ""
}

// Attachments 附件元数据
func (t *Tree) Attachments() []model.Attachment {
	var out []model.Attachment
	t.Walk(func(n *Node, _ int) bool {
		if n.Kind == NodeAttachment {
			out = append(out, model.Attachment{Filename: n.Filename, MIMEType: n.MediaType, Size: n.Size})
		}
		return true
	})
	return out
}

// nodeKind decides the leaf type from content type and disposition.
func nodeKind(mediaType, disposition, filename string) NodeKind {
	mediaType = strings.ToLower(mediaType)
	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		return NodeContainer
	case strings.EqualFold(disposition, "attachment"):
		return NodeAttachment
	case filename != "" && !strings.HasPrefix(mediaType, "text/"):
		return NodeAttachment
	case mediaType == "text/html":
		return NodeHTML
	case mediaType == "" || strings.HasPrefix(mediaType, "text/"):
		return NodeText
	default:
		return NodeAttachment
	}
}

func init() {
	message.CharsetReader = charsetReader
}

// charsetReader 使用 IANA 字符集表解码，未知字符集原样返回
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	if charset == "" || isUTF8(charset) {
		return input, nil
	}
	enc, err := ianaindex.IANA.Encoding(strings.ToLower(charset))
	if err != nil || enc == nil {
		return input, nil
	}
	return transform.NewReader(input, enc.NewDecoder()), nil
}

// decodeCharset decodes a buffer already stripped of its transfer encoding.
func decodeCharset(charset string, b []byte) string {
	if charset == "" || isUTF8(charset) {
		return string(b)
	}
	enc, err := ianaindex.IANA.Encoding(strings.ToLower(charset))
	if err != nil || enc == nil {
		return string(b)
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}

func isUTF8(charset string) bool {
	c := strings.ToLower(strings.TrimSpace(charset))
	return c == "utf-8" || c == "utf8" || c == "us-ascii"
}

// Parsed is a raw RFC 5322 message split into its header and MIME tree.
type Parsed struct {
	Header mail.Header
	Tree   *Tree
}

// ParseMessage reads a full message. The part tree is built iteratively with an
// explicit stack; parts past the limits are skipped and the tree marked truncated.
func ParseMessage(raw []byte, lim Limits) (*Parsed, error) {
	lim = lim.withDefaults()

	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return nil, fmt.Errorf("parse message: %w", err)
	}

	root := entityNode(entity.Header)
	tree := &Tree{Root: root, Nodes: 1}

	type frame struct {
		mr    message.MultipartReader
		node  *Node
		depth int
	}
	var stack []frame
	if mr := entity.MultipartReader(); mr != nil {
		stack = append(stack, frame{mr: mr, node: root})
	} else {
		readLeaf(root, entity.Body)
	}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		part, err := top.mr.NextPart()
		if err == io.EOF {
			stack = stack[:len(stack)-1]
			continue
		}
		if err != nil && (part == nil || (!message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err))) {
			// 损坏的 multipart：保留已解析部分
			tree.Truncated = true
			stack = stack[:len(stack)-1]
			continue
		}
		if tree.Nodes >= lim.MaxNodes {
			tree.Truncated = true
			break
		}

		child := entityNode(part.Header)
		tree.Nodes++
		top.node.Children = append(top.node.Children, child)

		if mr := part.MultipartReader(); mr != nil {
			if top.depth+1 >= lim.MaxDepth {
				tree.Truncated = true
				continue
			}
			stack = append(stack, frame{mr: mr, node: child, depth: top.depth + 1})
			continue
		}
		readLeaf(child, part.Body)
	}

	return &Parsed{Header: mail.Header{Header: entity.Header}, Tree: tree}, nil
}

func entityNode(h message.Header) *Node {
	mediaType, params, _ := h.ContentType()
	disposition, dparams, _ := h.ContentDisposition()
	filename := dparams["filename"]
	if filename == "" {
		filename = params["name"]
	}
	return &Node{
		Kind:      nodeKind(mediaType, disposition, filename),
		MediaType: mediaType,
		Filename:  filename,
	}
}

// readLeaf consumes a leaf body. Attachments are counted, never stored.
func readLeaf(n *Node, body io.Reader) {
	if n.Kind == NodeAttachment || n.Kind == NodeContainer {
		size, _ := io.Copy(io.Discard, body)
		n.Size = size
		return
	}
	b, _ := io.ReadAll(io.LimitReader(body, maxLeafBytes))
	rest, _ := io.Copy(io.Discard, body)
	n.Content = string(b)
	n.Size = int64(len(b)) + rest
}
