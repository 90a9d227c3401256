// Package importer reads device/configuration pairs from CSV files and
// turns them into submittable push specs.
package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/cisco-netmig/script-push-board/internal/job"
	"github.com/cisco-netmig/script-push-board/internal/log"
)

// utf8BOM is stripped when present; spreadsheet exports often carry it.
const utf8BOM = "\uFEFF"

// Parse reads CSV rows of the form
//
//	target,config[,credential_ref]
//
// and returns one selected spec per valid row. The target may carry an
// explicit port (host:port). A config cell starting with '@' names a file
// whose contents become the payload; baseDir resolves relative references.
// Rows with fewer than two columns or empty cells are skipped with a
// warning, matching how operators expect a hand-edited CSV to behave. A
// leading header row ("target,config") is ignored.
func Parse(r io.Reader, baseDir string) ([]job.Spec, error) {
	logger := log.WithComponent("importer")

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var specs []job.Spec
	line := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		line++

		if len(row) < 2 {
			logger.Warn("skipping invalid row", "line", line, "columns", len(row))
			continue
		}

		targetCell := strings.TrimSpace(strings.TrimPrefix(row[0], utf8BOM))
		configCell := strings.TrimSpace(row[1])
		if line == 1 && strings.EqualFold(targetCell, "target") {
			continue
		}
		if targetCell == "" || configCell == "" {
			logger.Warn("skipping row with empty target or config", "line", line)
			continue
		}

		target, err := parseTarget(targetCell)
		if err != nil {
			logger.Warn("skipping row with bad target", "line", line, "target", targetCell, "error", err)
			continue
		}
		if len(row) > 2 {
			target.CredentialRef = strings.TrimSpace(row[2])
		}

		payload, err := resolvePayload(configCell, baseDir)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		specs = append(specs, job.Spec{
			Target:   target,
			Payload:  payload,
			Selected: true,
		})
	}
	return specs, nil
}

// ParseFile parses the CSV at path; @file payload references resolve
// relative to the CSV's own directory.
func ParseFile(path string) ([]job.Spec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	dir := "."
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		dir = path[:i]
	}
	return Parse(f, dir)
}

func parseTarget(cell string) (job.Target, error) {
	host, portS, err := net.SplitHostPort(cell)
	if err != nil {
		// No port in the cell; the default applies.
		return job.Target{Host: cell}, nil
	}
	port, err := strconv.Atoi(portS)
	if err != nil || port < 1 || port > 65535 {
		return job.Target{}, fmt.Errorf("invalid port %q", portS)
	}
	return job.Target{Host: host, Port: port}, nil
}

func resolvePayload(cell, baseDir string) (string, error) {
	if !strings.HasPrefix(cell, "@") {
		return cell, nil
	}
	ref := strings.TrimPrefix(cell, "@")
	if !strings.HasPrefix(ref, "/") && baseDir != "" {
		ref = baseDir + "/" + ref
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return "", fmt.Errorf("read config file %s: %w", ref, err)
	}
	return string(data), nil
}
