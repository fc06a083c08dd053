package shell

import (
	"bufio"
	"os"
	"strings"
)

// shebangLine extracts the shebang line from the file, if present. If the
// file is readable but contains no shebang line, it returns an empty string.
// Non-nil errors only reflect an inability to read the file.
func shebangLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close() //nolint:errcheck // File only open for read.
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		// If the scan ended because of EOF, the file is empty and sc.Err is
		// nil. Otherwise sc.Err reflects the error reading the file.
		return "", sc.Err()
	}
	line := sc.Text()
	if !strings.HasPrefix(line, "#!") {
		// Not a shebang line.
		return "", nil
	}
	return line, nil
}
