package validation

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	minPort = 1
	maxPort = 65535
)

// PortInterval is a closed range of ports.
type PortInterval struct {
	Start int
	End   int
}

func (p PortInterval) String() string {
	if p.Start == p.End {
		return strconv.Itoa(p.Start)
	}
	return fmt.Sprintf("%d-%d", p.Start, p.End)
}

// ParsePortRange parses a spec such as "22,80-443,8080" into closed intervals.
// Every port must lie in [1, 65535] and every interval must have start <= end.
func ParsePortRange(spec string) ([]PortInterval, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, &FieldError{Field: "port_range", Reason: "cannot be empty"}
	}
	var intervals []PortInterval
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, &FieldError{Field: "port_range", Reason: "empty element"}
		}
		startText, endText, isRange := strings.Cut(part, "-")
		start, err := parsePort(startText)
		if err != nil {
			return nil, err
		}
		end := start
		if isRange {
			if end, err = parsePort(endText); err != nil {
				return nil, err
			}
		}
		if start > end {
			return nil, &FieldError{Field: "port_range", Reason: fmt.Sprintf("range %q has start greater than end", part)}
		}
		intervals = append(intervals, PortInterval{Start: start, End: end})
	}
	return intervals, nil
}

// FormatPortRange renders intervals back into the comma separated form nmap accepts.
func FormatPortRange(intervals []PortInterval) string {
	parts := make([]string, len(intervals))
	for i, p := range intervals {
		parts[i] = p.String()
	}
	return strings.Join(parts, ",")
}

// CountPorts returns the number of distinct ports covered by the intervals.
func CountPorts(intervals []PortInterval) int {
	seen := make(map[int]struct{})
	for _, p := range intervals {
		for port := p.Start; port <= p.End; port++ {
			seen[port] = struct{}{}
		}
	}
	return len(seen)
}

func parsePort(s string) (int, error) {
	s = strings.TrimSpace(s)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &FieldError{Field: "port_range", Reason: fmt.Sprintf("%q is not a number", s)}
	}
	if n < minPort || n > maxPort {
		return 0, &FieldError{Field: "port_range", Reason: fmt.Sprintf("port %d outside %d-%d", n, minPort, maxPort)}
	}
	return n, nil
}
