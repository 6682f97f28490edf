// Package ctrlparse parses the controller's line-oriented ASCII grammar
// into mutations on router and link state (spec §4.8).
package ctrlparse

import (
	"bufio"
	"log/slog"
	"net/netip"
	"strconv"
	"strings"

	"github.com/cutiedeng/netsim/internal/netsim"
)

// Apply parses text as a controller datagram and applies every valid line
// to registry in order, maintaining the parser-local (focus, current
// value) state across lines within this single call. Unknown or malformed
// lines are logged and skipped; parsing always continues to the next line
// (spec §4.8, §7 "Controller parse error: log line, continue").
func Apply(registry *netsim.Registry, text string, log *slog.Logger) error {
	var focus *netsim.Router
	var value uint64
	haveValue := false

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "ROUTER "):
			arg := strings.TrimSpace(strings.TrimPrefix(line, "ROUTER "))
			addr, err := netip.ParseAddr(arg)
			if err != nil || !addr.Is4() {
				focus = nil
				log.Warn("controller: ROUTER requires an IPv4 address", "arg", arg)
				continue
			}
			focus = registry.GetOrCreate(addr)

		case strings.HasPrefix(line, "VALUE "):
			arg := strings.TrimSpace(strings.TrimPrefix(line, "VALUE "))
			n, err := strconv.ParseUint(arg, 10, 64)
			if err != nil {
				haveValue = false
				log.Warn("controller: VALUE requires an integer", "arg", arg)
				continue
			}
			if n == 0 {
				haveValue = false
				continue
			}
			value = n
			haveValue = true

		case strings.HasPrefix(line, "LINK "):
			arg := strings.TrimSpace(strings.TrimPrefix(line, "LINK "))
			target, err := netip.ParseAddr(arg)
			if err != nil || !target.Is4() {
				log.Warn("controller: LINK requires an IPv4 address", "arg", arg)
				continue
			}
			if focus == nil || !haveValue {
				log.Warn("controller: LINK requires a prior ROUTER and VALUE", "target", target)
				continue
			}
			registry.SetLink(focus, target, value)

		case strings.HasPrefix(line, "QUEUE "):
			arg := strings.TrimSpace(strings.TrimPrefix(line, "QUEUE "))
			n, err := strconv.ParseUint(arg, 10, 64)
			if err != nil {
				log.Warn("controller: QUEUE requires an integer", "arg", arg)
				continue
			}
			if focus == nil {
				log.Warn("controller: QUEUE requires a prior ROUTER", "size", n)
				continue
			}
			focus.SetQueueSize(n)

		default:
			log.Warn("controller: unknown command", "line", line)
		}
	}

	return scanner.Err()
}
