package record

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/chazu/sketchgraph/pkg/graph"
)

// EncodeText writes st in the tagged-text form of generation gen. In
// GenInline every node is a YAML mapping tagged with its class name, for
// example "!Perpendicular"; in GenDictionary nodes carry a class_index into
// the document's classes list.
func EncodeText(st graph.State, gen Generation) ([]byte, error) {
	doc, err := toDocument(st, gen)
	if err != nil {
		return nil, err
	}
	var root yaml.Node
	if err := root.Encode(doc); err != nil {
		return nil, errors.Wrap(err, "record: encode header")
	}
	nodes := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for i := range doc.Nodes {
		nr := doc.Nodes[i]
		class := nr.Class
		nr.Class = ""
		var n yaml.Node
		if err := n.Encode(&nr); err != nil {
			return nil, errors.Wrapf(err, "record: encode node %d", nr.ID)
		}
		if gen == GenInline {
			n.Tag = "!" + class
		}
		nodes.Content = append(nodes.Content, &n)
	}
	root.Content = append(root.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "nodes"}, nodes)
	return yaml.Marshal(&root)
}

// DecodeText reads a tagged-text record of either generation.
func DecodeText(b []byte) (Record, error) {
	var file yaml.Node
	if err := yaml.Unmarshal(b, &file); err != nil {
		return Record{}, errors.Wrapf(ErrCorrupt, "%v", err)
	}
	if file.Kind != yaml.DocumentNode || len(file.Content) != 1 || file.Content[0].Kind != yaml.MappingNode {
		return Record{}, errors.Wrap(ErrCorrupt, "not a record document")
	}
	root := file.Content[0]

	var head struct {
		Version    int        `yaml:"version"`
		Generation Generation `yaml:"generation"`
	}
	if err := root.Decode(&head); err != nil {
		return Record{}, errors.Wrapf(ErrCorrupt, "%v", err)
	}
	if err := checkHeader(head.Version, head.Generation); err != nil {
		return Record{}, err
	}
	var doc document
	if err := root.Decode(&doc); err != nil {
		return Record{}, errors.Wrapf(ErrCorrupt, "%v", err)
	}

	seq := mappingValue(root, "nodes")
	if seq == nil {
		return fromDocument(&doc)
	}
	if seq.Kind != yaml.SequenceNode {
		return Record{}, errors.Wrap(ErrCorrupt, "nodes is not a sequence")
	}
	for _, n := range seq.Content {
		var class string
		if doc.Generation == GenInline {
			if !strings.HasPrefix(n.Tag, "!") || strings.HasPrefix(n.Tag, "!!") {
				return Record{}, errors.Wrapf(ErrCorrupt, "line %d: node without class tag", n.Line)
			}
			class = n.Tag[1:]
			n.Tag = ""
		}
		if v := mappingValue(n, "v"); v != nil {
			if ver, err := strconv.Atoi(v.Value); err == nil && ver > NodeVersion {
				return Record{}, errors.Wrapf(ErrPlaceholder, "line %d: node field version %d", n.Line, ver)
			}
		}
		var nr nodeRecord
		if err := n.Decode(&nr); err != nil {
			return Record{}, errors.Wrapf(ErrCorrupt, "line %d: %v", n.Line, err)
		}
		if class != "" {
			nr.Class = class
		}
		doc.Nodes = append(doc.Nodes, nr)
	}
	return fromDocument(&doc)
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}
