// Package dest picks the directory a plot is moved to.
package dest

// Destination is either a local directory or a remote rsync target.
// A non-empty Host makes it remote, in which case Path is the directory on
// that host.
type Destination struct {
	Path string `mapstructure:"dir"`
	Host string `mapstructure:"host"`
}

func Local(path string) Destination { return Destination{Path: path} }

func Remote(host, dir string) Destination { return Destination{Path: dir, Host: host} }

func (d Destination) IsRemote() bool { return d.Host != "" }

// ID is the key the destination is reserved under.
func (d Destination) ID() string {
	if d.IsRemote() {
		return d.Host + ":" + d.Path
	}
	return d.Path
}

func (d Destination) String() string { return d.ID() }

// SpaceFunc reports the bytes available to an unprivileged writer at path.
type SpaceFunc func(path string) (uint64, error)
