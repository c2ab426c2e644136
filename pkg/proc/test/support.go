package test

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// Fixture is a test binary.
type Fixture struct {
	// Name is the short name of the fixture.
	Name string
	// Path is the absolute path to the test binary.
	Path string
	// Source is the absolute path of the test binary source.
	Source string
}

// Fixtures is a map of Fixture.Name to Fixture.
var Fixtures = make(map[string]Fixture)

// FindFixturesDir returns the _fixtures directory of the module, searching
// the parents of the working directory.
func FindFixturesDir() string {
	parent := ".."
	fixturesDir := "_fixtures"
	for depth := 0; depth < 10; depth++ {
		if _, err := os.Stat(fixturesDir); err == nil {
			break
		}
		fixturesDir = filepath.Join(parent, fixturesDir)
	}
	return fixturesDir
}

// BuildFlags select how a fixture is compiled.
type BuildFlags uint32

const (
	// BuildModePIE builds a position independent executable.
	BuildModePIE BuildFlags = 1 << iota
)

// BuildFixture compiles _fixtures/<name>.go with its symbol table kept.
// Fixtures are built once per test binary.
func BuildFixture(name string, flags BuildFlags) Fixture {
	key := fmt.Sprintf("%s/%d", name, flags)
	if f, ok := Fixtures[key]; ok {
		return f
	}

	fixturesDir := FindFixturesDir()

	r := make([]byte, 4)
	rand.Read(r)
	path := filepath.Join(fixturesDir, name+".go")
	tmpfile := filepath.Join(os.TempDir(), fmt.Sprintf("%s.%s", name, hex.EncodeToString(r)))

	buildFlags := []string{"build", "-gcflags=-N -l"}
	if flags&BuildModePIE != 0 {
		buildFlags = append(buildFlags, "-buildmode=pie")
	}
	buildFlags = append(buildFlags, "-o", tmpfile, name+".go")

	cmd := exec.Command("go", buildFlags...)
	cmd.Dir = fixturesDir
	if out, err := cmd.CombinedOutput(); err != nil {
		fmt.Printf("Error compiling %s: %s\n%s", path, err, out)
		os.Exit(1)
	}

	source, _ := filepath.Abs(path)
	Fixtures[key] = Fixture{Name: name, Path: tmpfile, Source: filepath.ToSlash(source)}
	return Fixtures[key]
}

// RunTestsWithFixtures runs the tests and deletes the fixtures they built.
func RunTestsWithFixtures(m *testing.M) int {
	status := m.Run()

	for _, f := range Fixtures {
		os.Remove(f.Path)
	}
	return status
}

// Process is a running fixture.
type Process struct {
	Cmd *exec.Cmd
	// Addrs holds the runtime addresses of the functions the fixture
	// reported before becoming ready, by symbol name.
	Addrs map[string]uint64
}

// Pid returns the process id of the fixture.
func (p *Process) Pid() int {
	return p.Cmd.Process.Pid
}

// StartFixture runs f and waits for it to print "ready". Every line before
// that one has the form "<symbol> <address>". The process is killed when
// the test ends.
func StartFixture(t testing.TB, f Fixture) *Process {
	t.Helper()
	cmd := exec.Command(f.Path)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatal(err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	p := &Process{Cmd: cmd, Addrs: map[string]uint64{}}
	scan := bufio.NewScanner(stdout)
	for scan.Scan() {
		line := scan.Text()
		if line == "ready" {
			return p
		}
		name, addr, ok := strings.Cut(line, " ")
		if !ok {
			t.Fatalf("unexpected fixture output %q", line)
		}
		v, err := strconv.ParseUint(addr, 0, 64)
		if err != nil {
			t.Fatalf("unexpected fixture output %q: %v", line, err)
		}
		p.Addrs[name] = v
	}
	t.Fatalf("fixture %s exited before becoming ready: %v", f.Name, scan.Err())
	return nil
}
