package ros

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

const (
	Sep       = "/"
	GlobalNS  = "/"
	PrivateNS = "~"
	//Remap string constant for splitting components
	Remap = ":="
)

var validName = regexp.MustCompile(`^[~/]?([a-zA-Z]\w*/)*([a-zA-Z]\w*)?$`)

type NameMap map[string]string

// getNamespace returns the parent namespace of name, with a trailing
// separator.
func getNamespace(name string) string {
	name = strings.TrimSuffix(name, Sep)
	result := name[:strings.LastIndex(name, Sep)+1]
	if len(result) == 0 {
		return GlobalNS
	}
	return result
}

// normalizeNamespace makes ns global with a trailing separator.
func normalizeNamespace(ns string) string {
	ns = canonicalizeName(ns)
	if !isGlobalName(ns) {
		ns = GlobalNS + ns
	}
	if !strings.HasSuffix(ns, Sep) {
		ns += Sep
	}
	return ns
}

// qualifyNodeName splits a node name into its namespace (with a trailing
// separator) and base name.
func qualifyNodeName(nodeName string) (string, string, error) {
	if nodeName == "" {
		return "", "", errors.New("empty node name")
	}
	if isPrivateName(nodeName) {
		return "", "", errors.New("node name should not contain '~'")
	}
	canonName := canonicalizeName(nodeName)
	if !isValidName(canonName) {
		return "", "", errors.Errorf("invalid node name %q", nodeName)
	}
	i := strings.LastIndex(canonName, Sep)
	if i < 0 {
		return GlobalNS, canonName, nil
	}
	return normalizeNamespace(canonName[:i+1]), canonName[i+1:], nil
}

// resolveName resolves name against nodeName, the fully qualified name of a
// node: relative names live in the node's namespace, private names under the
// node itself.
func resolveName(name string, nodeName string, mappings NameMap) string {
	var resolvedName string
	canonName := canonicalizeName(name)
	switch {
	case len(canonName) == 0:
		resolvedName = getNamespace(nodeName)
	case isGlobalName(canonName):
		resolvedName = canonName
	case isPrivateName(canonName):
		resolvedName = canonicalizeName(nodeName + Sep + canonName[1:])
	default:
		resolvedName = getNamespace(nodeName) + canonName
	}

	if remapped, ok := mappings[resolvedName]; ok {
		return remapped
	}
	return resolvedName
}

func isValidName(name string) bool {
	return validName.MatchString(name)
}

func isGlobalName(name string) bool {
	return strings.HasPrefix(name, GlobalNS)
}

func isPrivateName(name string) bool {
	return strings.HasPrefix(name, PrivateNS)
}

// Remove sequential seperater
func canonicalizeName(name string) string {
	if name == GlobalNS || name == "" {
		return name
	}
	var components []string
	for _, word := range strings.Split(name, Sep) {
		if len(word) > 0 {
			components = append(components, word)
		}
	}
	if isGlobalName(name) {
		return GlobalNS + strings.Join(components, Sep)
	}
	return strings.Join(components, Sep)
}

// processArguments splits command line arguments into name remappings
// (from:=to), private parameters (_key:=value), special keys (__name:=...)
// and everything else.
func processArguments(args []string) (NameMap, NameMap, NameMap, []string) {
	mapping := make(NameMap)
	params := make(NameMap)
	specials := make(NameMap)
	rest := make([]string, 0)
	for _, arg := range args {
		components := strings.SplitN(arg, Remap, 2)
		if len(components) != 2 || components[0] == "" {
			rest = append(rest, arg)
			continue
		}
		key, value := components[0], components[1]
		switch {
		case strings.HasPrefix(key, "__"):
			specials[key] = value
		case strings.HasPrefix(key, "_"):
			params[key[1:]] = value
		default:
			mapping[key] = value
		}
	}
	return mapping, params, specials, rest
}

type NameResolver struct {
	nodeName        string
	resolvedMapping NameMap
}

// newNameResolver resolves both sides of every remapping against the fully
// qualified node name.
func newNameResolver(nodeName string, remapping NameMap) *NameResolver {
	n := &NameResolver{
		nodeName:        nodeName,
		resolvedMapping: make(NameMap),
	}
	for k, v := range remapping {
		n.resolvedMapping[resolveName(k, nodeName, nil)] = resolveName(v, nodeName, nil)
	}
	return n
}

// resolve returns the global name without applying remappings.
func (n *NameResolver) resolve(name string) string {
	return resolveName(name, n.nodeName, nil)
}

// remap returns the global name after remapping.
func (n *NameResolver) remap(name string) string {
	return resolveName(name, n.nodeName, n.resolvedMapping)
}
