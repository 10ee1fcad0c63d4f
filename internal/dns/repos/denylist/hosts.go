package denylist

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"
)

// ParseHostsFile reads a hosts-format blocklist: one name per line, or the
// common "0.0.0.0 name" shape. Comments and loopback names are skipped.
func ParseHostsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open denylist file: %w", err)
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		name := fields[0]
		if len(fields) > 1 && net.ParseIP(fields[0]) != nil {
			name = fields[1]
		}
		if skipName(name) {
			continue
		}
		names = append(names, name)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read denylist file: %w", err)
	}
	return names, nil
}

// skipName filters entries that hosts files carry but a resolver denylist
// must not block.
func skipName(name string) bool {
	switch strings.TrimSuffix(strings.ToLower(name), ".") {
	case "localhost", "localhost.localdomain", "broadcasthost", "local", "ip6-localhost", "ip6-loopback":
		return true
	}
	return false
}
