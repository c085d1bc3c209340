package tornago

import (
	"context"
	"strings"
)

// opInfoTree labels errors and log entries from the info tree.
const opInfoTree = "InfoTree"

// infoLeaf is one queryable GETINFO path.
type infoLeaf struct {
	wirePath string // e.g. "dir/status/fp" or "ip-to-country" (takesArg families exclude the trailing "/*")
	doc      string
	takesArg bool
}

// infoNode is either an internal namespace (children set, leaf nil) or a
// leaf query (leaf set, children empty). Both cannot coexist on the same
// node: such conflicts (e.g. a hypothetical "config/*" that also had a
// sibling leaf named "config") are rejected at build time and logged.
type infoNode struct {
	wireName string
	children map[string]*infoNode
	leaf     *infoLeaf
}

// InfoTree is a typed, path-addressed query surface over GETINFO, built
// once from the daemon's own info/names catalogue at bootstrap.
type InfoTree struct {
	engine *Engine
	logger Logger
	root   *infoNode
}

// NewInfoTree fetches GETINFO info/names from an already-authenticated
// engine and builds the query trie.
func NewInfoTree(ctx context.Context, engine *Engine, logger Logger) (*InfoTree, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	lines, err := engine.QueueCommand(ctx, "GETINFO info/names")
	if err != nil {
		return nil, newError(ErrControlRequestFail, opInfoTree, "GETINFO info/names failed", err)
	}

	t := &InfoTree{
		engine: engine,
		logger: logger,
		root:   &infoNode{children: make(map[string]*infoNode)},
	}
	for _, line := range lines {
		path, doc, ok := strings.Cut(line, " ")
		if !ok {
			path, doc = line, ""
		}
		path = strings.TrimSpace(path)
		doc = strings.TrimSpace(doc)
		if path == "" {
			continue
		}
		takesArg := strings.HasSuffix(path, "/*")
		wirePath := strings.TrimSuffix(path, "/*")
		if err := t.insert(wirePath, doc, takesArg); err != nil {
			logger.Log("warn", "skipping ambiguous info/names entry", "path", wirePath, "error", err.Error())
		}
	}
	return t, nil
}

// insert adds one leaf to the trie, splitting wirePath on "/" into segments
// and normalizing dashes within each segment to underscores for the
// caller-facing dotted identifier, while retaining the original wire
// spelling for the GETINFO command sent on the wire.
func (t *InfoTree) insert(wirePath, doc string, takesArg bool) error {
	segments := strings.Split(wirePath, "/")
	node := t.root
	for i, seg := range segments {
		key := normalizeIdentifier(seg)
		if node.leaf != nil {
			return newError(ErrInvalidConfig, opInfoTree, "namespace/query conflict at "+wirePath, nil)
		}
		if node.children == nil {
			node.children = make(map[string]*infoNode)
		}
		child, ok := node.children[key]
		if !ok {
			child = &infoNode{wireName: seg}
			node.children[key] = child
		}
		node = child

		if i == len(segments)-1 {
			if len(node.children) > 0 {
				return newError(ErrInvalidConfig, opInfoTree, "namespace/query conflict at "+wirePath, nil)
			}
			node.leaf = &infoLeaf{wirePath: wirePath, doc: doc, takesArg: takesArg}
		}
	}
	return nil
}

// normalizeIdentifier maps a wire path segment to its caller-facing form:
// dashes become underscores. The mapping is deterministic and one-way;
// lookup returns the wire path stored on the leaf at insert time rather
// than reversing the substitution.
func normalizeIdentifier(seg string) string {
	return strings.ReplaceAll(seg, "-", "_")
}

// lookup resolves a dotted caller-facing path (e.g. "traffic.read",
// "ip_to_country") to its leaf.
func (t *InfoTree) lookup(dotted string) (*infoLeaf, error) {
	node := t.root
	for _, key := range strings.Split(dotted, ".") {
		if node.children == nil {
			return nil, newError(ErrUnknownKey, opInfoTree, "unknown info path: "+dotted, nil)
		}
		child, ok := node.children[key]
		if !ok {
			return nil, newError(ErrUnknownKey, opInfoTree, "unknown info path: "+dotted, nil)
		}
		node = child
	}
	if node.leaf == nil {
		return nil, newError(ErrUnknownKey, opInfoTree, "path is a namespace, not a query: "+dotted, nil)
	}
	return node.leaf, nil
}

// Doc returns the documentation string for a dotted info path.
func (t *InfoTree) Doc(dotted string) (string, error) {
	leaf, err := t.lookup(dotted)
	if err != nil {
		return "", err
	}
	return leaf.doc, nil
}

// Query invokes the leaf at dotted, issuing GETINFO <path> when the leaf
// takes no argument, or GETINFO <path>/<arg> when it does. Supplying an arg
// for a no-arg leaf, or omitting it for a families-of-queries leaf, fails
// with ArityError.
func (t *InfoTree) Query(ctx context.Context, dotted string, arg string) (string, error) {
	leaf, err := t.lookup(dotted)
	if err != nil {
		return "", err
	}
	if leaf.takesArg && arg == "" {
		return "", newError(ErrArityError, opInfoTree, "path requires an argument: "+dotted, nil)
	}
	if !leaf.takesArg && arg != "" {
		return "", newError(ErrArityError, opInfoTree, "path takes no argument: "+dotted, nil)
	}

	wire := leaf.wirePath
	if leaf.takesArg {
		wire += "/" + arg
	}
	values, err := t.engine.GetInfo(ctx, wire)
	if err != nil {
		return "", err
	}
	value, ok := values[wire]
	if !ok {
		return "", newError(ErrUnknownKey, opInfoTree, "key not present in GETINFO response: "+wire, nil)
	}
	return value, nil
}
