package remote

import (
	"fmt"
	"strconv"

	"ssb/config"
	"ssb/hostconfig"
	ssberrors "ssb/internal/errors"
)

// expandJumps returns the bastion hops needed to reach target, ordered
// outermost first.  Only the first hop of a comma list has its own
// ProxyJump followed, the same way ssh -J treats it; later hops are
// reached through the hop before them.
func expandJumps(target hostconfig.Connection, r *hostconfig.Resolver) ([]hostconfig.Connection, error) {
	seen := map[string]bool{hopKey(target): true}
	var out []hostconfig.Connection
	if err := expandInto(&out, target, r, seen, 0); err != nil {
		return nil, err
	}
	return out, nil
}

func expandInto(out *[]hostconfig.Connection, conn hostconfig.Connection, r *hostconfig.Resolver, seen map[string]bool, depth int) error {
	hops, err := config.ParseJumpSpec(conn.ProxyJump)
	if err != nil {
		return fmt.Errorf("ProxyJump for %s: %w", conn.Alias, err)
	}
	if len(hops) == 0 {
		return nil
	}
	if depth >= config.MaxProxyDepth {
		return fmt.Errorf("%w: more than %d nested hops at %s", ssberrors.ErrProxyLoop, config.MaxProxyDepth, conn.Alias)
	}

	for i, h := range hops {
		hc := r.ConnectionOrDirect(h.Host)
		if h.User != "" {
			hc.Username = h.User
		}
		if h.Port != 0 {
			hc.Port = h.Port
		}
		key := hopKey(hc)
		if seen[key] {
			return fmt.Errorf("%w: %s is reached through itself", ssberrors.ErrProxyLoop, h)
		}
		seen[key] = true

		if i == 0 {
			if err := expandInto(out, hc, r, seen, depth+1); err != nil {
				return err
			}
		}
		*out = append(*out, hc)
		if len(*out) > config.MaxProxyDepth {
			return fmt.Errorf("%w: chain longer than %d hops", ssberrors.ErrProxyLoop, config.MaxProxyDepth)
		}
	}
	return nil
}

func hopKey(c hostconfig.Connection) string {
	return c.Username + "@" + c.Hostname + ":" + strconv.Itoa(c.Port)
}
