package dest

import (
	"github.com/cleverdata/plotmover/internal/ledger"
	"github.com/cleverdata/plotmover/internal/logging"
	"github.com/dustin/go-humanize"
)

// Selector does first-fit selection over a fixed, ordered destination list.
type Selector struct {
	Destinations []Destination
	Space        SpaceFunc
	Logger       logging.Logger
}

func NewSelector(dests []Destination, logger logging.Logger) *Selector {
	return &Selector{
		Destinations: dests,
		Space:        FreeSpace,
		Logger:       logging.OrDiscard(logger),
	}
}

// Select returns the first unreserved destination with strictly more than
// size bytes free. Remote targets have no free-space probe and only need to
// be unreserved. ok is false when nothing is eligible right now.
func (s *Selector) Select(size int64, l ledger.Reserver) (Destination, bool) {
	logger := logging.OrDiscard(s.Logger)
	space := s.Space
	if space == nil {
		space = FreeSpace
	}

	for _, d := range s.Destinations {
		if l.IsDestinationReserved(d.ID()) {
			logging.Debugf(logger, "[select] %s is busy", d)
			continue
		}
		if d.IsRemote() {
			return d, true
		}

		free, err := space(d.Path)
		if err != nil {
			logger.Warningf("[select] Cannot read free space of %s: %v", d.Path, err)
			continue
		}
		if size >= 0 && free > uint64(size) {
			return d, true
		}
		logging.Debugf(logger, "[select] %s has %s free, need more than %s",
			d.Path, humanize.IBytes(free), humanize.IBytes(uint64(size)))
	}
	return Destination{}, false
}
