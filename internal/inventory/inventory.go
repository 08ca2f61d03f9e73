// Package inventory resolves target hosts from an ansible-style YAML
// inventory file.
//
// The file is a mapping of group names to groups. A group may list hosts
// (a mapping of host name to per-host variables), group variables, and child
// groups:
//
//	all:
//	  vars:
//	    ansible_user: cassandra
//	  children:
//	    cassandra:
//	      vars:
//	        deploy_docker_folder: /opt/cassandra
//	      hosts:
//	        cass01: {ansible_host: 10.0.0.1}
//	        cass02: {ansible_host: 10.0.0.2}
//
// Variables on a host override those of its groups; a child group's
// variables override its parent's. Templated values are used verbatim.
package inventory

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/kevinburke/ssh_config"
	"gopkg.in/yaml.v3"

	"github.com/agent462/fanout/internal/executor"
	"github.com/agent462/fanout/internal/pathutil"
)

// Variable names understood by the resolver.
const (
	VarHost    = "ansible_host"
	VarUser    = "ansible_user"
	VarPort    = "ansible_port"
	VarWorkdir = "deploy_docker_folder"
)

// ErrDuplicateAddress is returned when two hosts resolve to the same address.
var ErrDuplicateAddress = errors.New("duplicate host address")

// Vars holds per-host or per-group variables.
type Vars map[string]any

// Host is one inventory entry with its effective variables.
type Host struct {
	Name   string
	Groups []string
	Vars   Vars

	depth map[string]int // nesting depth of the group that set each var
}

// scoped is a variable value with the group depth that defined it.
type scoped struct {
	val   any
	depth int
}

const hostDepth = int(^uint(0) >> 1)

// defaultPort is assumed for hosts without a port when checking for
// duplicate endpoints.
const defaultPort = 22

// Inventory is a parsed inventory file. Host and group order follow the file.
type Inventory struct {
	hosts  []*Host
	byName map[string]*Host
	groups map[string][]string // group name -> member host names, including children
	order  []string
}

// sshConfigGet looks up a key for an alias in the user's SSH config.
var sshConfigGet = func(alias, key string) string {
	val, err := ssh_config.GetStrict(alias, key)
	if err != nil {
		return ""
	}
	return val
}

// Load reads and parses an inventory file.
func Load(file string) (*Inventory, error) {
	data, err := os.ReadFile(pathutil.ExpandHome(file))
	if err != nil {
		return nil, fmt.Errorf("reading inventory: %w", err)
	}
	inv, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing inventory %s: %w", file, err)
	}
	return inv, nil
}

// Parse parses inventory YAML.
func Parse(data []byte) (*Inventory, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	inv := &Inventory{
		byName: make(map[string]*Host),
		groups: make(map[string][]string),
	}
	if len(doc.Content) == 0 {
		return inv, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: inventory must be a mapping of groups", root.Line)
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if _, err := inv.addGroup(root.Content[i].Value, root.Content[i+1], nil, nil); err != nil {
			return nil, err
		}
	}
	return inv, nil
}

// addGroup walks one group node and returns the names of every host in it
// or its children. parents holds the enclosing group names and inherited the
// variables they set.
func (inv *Inventory) addGroup(name string, node *yaml.Node, parents []string, inherited map[string]scoped) ([]string, error) {
	if node.Kind != yaml.MappingNode && node.Tag != "!!null" {
		return nil, fmt.Errorf("line %d: group %q must be a mapping", node.Line, name)
	}

	vars := make(map[string]scoped, len(inherited))
	for k, v := range inherited {
		vars[k] = v
	}
	var hostsNode, childrenNode *yaml.Node
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i].Value, node.Content[i+1]
		switch key {
		case "hosts":
			hostsNode = val
		case "children":
			childrenNode = val
		case "vars":
			var gv Vars
			if err := val.Decode(&gv); err != nil {
				return nil, fmt.Errorf("group %q vars: %w", name, err)
			}
			for k, v := range gv {
				vars[k] = scoped{val: v, depth: len(parents) + 1}
			}
		default:
			return nil, fmt.Errorf("line %d: group %q: unknown key %q", node.Content[i].Line, name, key)
		}
	}

	chain := append(append([]string(nil), parents...), name)
	var members []string
	if hostsNode != nil && hostsNode.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(hostsNode.Content); i += 2 {
			hostName := hostsNode.Content[i].Value
			var hv Vars
			if err := hostsNode.Content[i+1].Decode(&hv); err != nil {
				return nil, fmt.Errorf("host %q vars: %w", hostName, err)
			}
			inv.addHost(hostName, chain, vars, hv)
			members = append(members, hostName)
		}
	}
	if childrenNode != nil && childrenNode.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(childrenNode.Content); i += 2 {
			sub, err := inv.addGroup(childrenNode.Content[i].Value, childrenNode.Content[i+1], chain, vars)
			if err != nil {
				return nil, err
			}
			members = append(members, sub...)
		}
	}

	if _, seen := inv.groups[name]; !seen {
		inv.order = append(inv.order, name)
	}
	inv.groups[name] = appendUnique(inv.groups[name], members...)
	return members, nil
}

// addHost records a host's membership. A variable set by a deeper group wins
// over a shallower one, and host variables win over all groups.
func (inv *Inventory) addHost(name string, groups []string, groupVars map[string]scoped, hostVars Vars) {
	h, ok := inv.byName[name]
	if !ok {
		h = &Host{Name: name, Vars: Vars{}, depth: map[string]int{}}
		inv.byName[name] = h
		inv.hosts = append(inv.hosts, h)
	}
	h.Groups = appendUnique(h.Groups, groups...)
	for k, v := range groupVars {
		h.set(k, v)
	}
	for k, v := range hostVars {
		h.set(k, scoped{val: v, depth: hostDepth})
	}
}

func (h *Host) set(key string, v scoped) {
	if d, ok := h.depth[key]; ok && v.depth < d {
		return
	}
	h.Vars[key] = v.val
	h.depth[key] = v.depth
}

// Groups returns group names in file order.
func (inv *Inventory) Groups() []string {
	return append([]string(nil), inv.order...)
}

// Resolve returns the targets selected by subset. subset is a comma-separated
// list of group names and host-name glob patterns; "" and "all" select every
// host. Hosts keep file order within each pattern and appear once.
func (inv *Inventory) Resolve(subset string) ([]executor.HostTarget, error) {
	names, err := inv.match(subset)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		if subset == "" {
			return nil, executor.ErrNoHosts
		}
		return nil, fmt.Errorf("%w: %q", executor.ErrNoHosts, subset)
	}

	targets := make([]executor.HostTarget, 0, len(names))
	byAddr := make(map[string]string, len(names))
	for _, name := range names {
		t, err := target(inv.byName[name])
		if err != nil {
			return nil, err
		}
		port := t.Port
		if port == 0 {
			port = defaultPort
		}
		endpoint := net.JoinHostPort(t.Address, strconv.Itoa(port))
		if prev, dup := byAddr[endpoint]; dup {
			return nil, &executor.ConfigError{
				Err:    ErrDuplicateAddress,
				Detail: fmt.Sprintf("%s is used by both %s and %s", endpoint, prev, name),
			}
		}
		byAddr[endpoint] = name
		targets = append(targets, t)
	}
	return targets, nil
}

func (inv *Inventory) match(subset string) ([]string, error) {
	subset = strings.TrimSpace(subset)
	if subset == "" || subset == "all" {
		names := make([]string, len(inv.hosts))
		for i, h := range inv.hosts {
			names[i] = h.Name
		}
		return names, nil
	}

	var result []string
	for _, pattern := range strings.Split(subset, ",") {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if pattern == "all" {
			all, _ := inv.match("")
			result = appendUnique(result, all...)
			continue
		}
		if members, ok := inv.groups[pattern]; ok {
			result = appendUnique(result, members...)
			continue
		}
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, &executor.ConfigError{Err: fmt.Errorf("invalid host pattern %q", pattern), Detail: err.Error()}
		}
		for _, h := range inv.hosts {
			if ok, _ := path.Match(pattern, h.Name); ok {
				result = appendUnique(result, h.Name)
			}
		}
	}
	return result, nil
}

// target converts an inventory host into a dispatch target. Without an
// ansible_host the address comes from a HostName entry in ~/.ssh/config,
// then the inventory name itself. When the alias supplies the address, its
// User and Port fill in whatever the inventory leaves unset.
func target(h *Host) (executor.HostTarget, error) {
	t := executor.HostTarget{
		Name:            h.Name,
		Address:         h.Vars.String(VarHost),
		User:            h.Vars.String(VarUser),
		WorkdirOverride: h.Vars.String(VarWorkdir),
	}
	port := h.Vars.String(VarPort)
	if t.Address == "" {
		if hostName := sshConfigGet(h.Name, "HostName"); hostName != "" {
			t.Address = hostName
			t.Alias = h.Name
			if t.User == "" {
				t.User = sshConfigGet(h.Name, "User")
			}
			if port == "" {
				port = sshConfigGet(h.Name, "Port")
			}
		}
	}
	if t.Address == "" {
		t.Address = h.Name
	}
	if port != "" {
		p, err := strconv.Atoi(port)
		if err != nil || p <= 0 || p > 65535 {
			return t, &executor.ConfigError{
				Err:    fmt.Errorf("invalid %s for host %s", VarPort, h.Name),
				Detail: port,
			}
		}
		t.Port = p
	}
	return t, nil
}

// String returns the variable as a string, or "" when unset or null.
func (v Vars) String(key string) string {
	val, ok := v[key]
	if !ok || val == nil {
		return ""
	}
	if s, ok := val.(string); ok {
		return strings.TrimSpace(s)
	}
	return fmt.Sprint(val)
}

func appendUnique(dst []string, items ...string) []string {
	for _, it := range items {
		dup := false
		for _, d := range dst {
			if d == it {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, it)
		}
	}
	return dst
}
