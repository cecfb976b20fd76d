package idcache

import (
	"bufio"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Cache memoizes user and group lookups for one process. When Root names
// a directory other than "/" the passwd and group files under it are
// consulted instead of the host's name services.
type Cache struct {
	Root string
	Log  zerolog.Logger

	mu     sync.Mutex
	users  map[string]int
	groups map[string]int
	unames map[int]string
	gnames map[int]string
}

func New(root string, log zerolog.Logger) *Cache {
	return &Cache{
		Root:   root,
		Log:    log,
		users:  map[string]int{"root": 0},
		groups: map[string]int{"root": 0},
		unames: map[int]string{0: "root"},
		gnames: map[int]string{0: "root"},
	}
}

// UID resolves a user name. Unknown names map to 0 with a warning.
func (c *Cache) UID(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.users[name]; ok {
		return id
	}
	id, ok := c.lookup(name, "passwd", func(n string) (string, error) {
		u, err := user.Lookup(n)
		if err != nil {
			return "", err
		}
		return u.Uid, nil
	})
	if !ok {
		c.Log.Warn().Str("user", name).Msg("user does not exist - using root")
	}
	c.users[name] = id
	return id
}

// GID resolves a group name. Unknown names map to 0 with a warning.
func (c *Cache) GID(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.groups[name]; ok {
		return id
	}
	id, ok := c.lookup(name, "group", func(n string) (string, error) {
		g, err := user.LookupGroup(n)
		if err != nil {
			return "", err
		}
		return g.Gid, nil
	})
	if !ok {
		c.Log.Warn().Str("group", name).Msg("group does not exist - using root")
	}
	c.groups[name] = id
	return id
}

// UserName is the reverse of UID; unknown ids are rendered numerically.
func (c *Cache) UserName(uid int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.unames[uid]; ok {
		return n
	}
	n := strconv.Itoa(uid)
	if name, ok := c.reverse(uid, "passwd"); ok {
		n = name
	} else if u, err := user.LookupId(n); err == nil && c.hostLookups() {
		n = u.Username
	}
	c.unames[uid] = n
	return n
}

// GroupName is the reverse of GID.
func (c *Cache) GroupName(gid int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.gnames[gid]; ok {
		return n
	}
	n := strconv.Itoa(gid)
	if name, ok := c.reverse(gid, "group"); ok {
		n = name
	} else if g, err := user.LookupGroupId(n); err == nil && c.hostLookups() {
		n = g.Name
	}
	c.gnames[gid] = n
	return n
}

func (c *Cache) hostLookups() bool {
	return c.Root == "" || c.Root == "/"
}

func (c *Cache) lookup(name, db string, host func(string) (string, error)) (int, bool) {
	if !c.hostLookups() {
		if id, ok := c.scan(db, func(fields []string) bool { return fields[0] == name }); ok {
			return id, true
		}
		return 0, false
	}
	s, err := host(name)
	if err != nil {
		return 0, false
	}
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (c *Cache) reverse(id int, db string) (string, bool) {
	if c.hostLookups() {
		return "", false
	}
	var name string
	_, ok := c.scan(db, func(fields []string) bool {
		if fields[2] == strconv.Itoa(id) {
			name = fields[0]
			return true
		}
		return false
	})
	return name, ok
}

// scan walks <root>/etc/<db> and returns the id field of the first line
// accepted by match.
func (c *Cache) scan(db string, match func(fields []string) bool) (int, bool) {
	f, err := os.Open(filepath.Join(c.Root, "etc", db))
	if err != nil {
		return 0, false
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 3 || !match(fields) {
			continue
		}
		id, err := strconv.Atoi(fields[2])
		if err != nil {
			return 0, false
		}
		return id, true
	}
	return 0, false
}
