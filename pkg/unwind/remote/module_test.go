package remote

import (
	"os"
	"runtime"
	"testing"

	"github.com/prometheus/procfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	protest "github.com/go-delve/pstack/pkg/proc/test"
	"github.com/go-delve/pstack/pkg/unwind"
)

func TestExecutableMappings(t *testing.T) {
	rx := &procfs.ProcMapPermissions{Read: true, Execute: true, Private: true}
	rw := &procfs.ProcMapPermissions{Read: true, Write: true, Private: true}
	maps := executableMappings([]*procfs.ProcMap{
		{StartAddr: 0x7000, EndAddr: 0x8000, Perms: rx, Pathname: "/lib/libc.so.6", Offset: 0x1000},
		{StartAddr: 0x1000, EndAddr: 0x2000, Perms: rx, Pathname: "/bin/prog"},
		{StartAddr: 0x2000, EndAddr: 0x3000, Perms: rw, Pathname: "/bin/prog"},
		{StartAddr: 0x9000, EndAddr: 0xa000, Perms: rx, Pathname: "[vdso]"},
		{StartAddr: 0xb000, EndAddr: 0xc000, Perms: rx},
	})
	assert.Equal(t, []mapping{
		{start: 0x1000, end: 0x2000, path: "/bin/prog"},
		{start: 0x7000, end: 0x8000, offset: 0x1000, path: "/lib/libc.so.6"},
	}, maps)

	as := &addressSpace{maps: maps}
	for pc, want := range map[uint64]string{0x1000: "/bin/prog", 0x1fff: "/bin/prog", 0x7abc: "/lib/libc.so.6", 0x2000: "", 0x500: "", 0x8000: ""} {
		mp, ok := as.mappingFor(pc)
		assert.Equal(t, want != "", ok, "%#x", pc)
		assert.Equal(t, want, mp.path, "%#x", pc)
	}
}

func TestMain(m *testing.M) {
	os.Exit(protest.RunTestsWithFixtures(m))
}

func TestModuleOfFixture(t *testing.T) {
	arch, err := unwind.ArchFor(runtime.GOARCH)
	if err != nil {
		t.Skip(err)
	}
	p := protest.StartFixture(t, protest.BuildFixture("spin", protest.BuildModePIE))
	pc, ok := p.Addrs["main.spin"]
	require.True(t, ok)

	b := NewBackend(p.Pid(), nil, 0)
	uas, err := b.CreateAddressSpace(arch)
	require.NoError(t, err)
	defer uas.Destroy()
	as := uas.(*addressSpace)

	m := as.moduleFor(pc)
	require.NotNil(t, m, "no module for %#x", pc)

	for _, addr := range []uint64{pc, pc + 1} {
		f, ok := m.funcFor(addr)
		require.True(t, ok, "%#x", addr)
		assert.Equal(t, "main.spin", f.name)
		assert.Equal(t, pc, f.addr+m.bias)
	}

	fde, ok := m.fdeFor(pc)
	require.True(t, ok, "no call frame information for main.spin")
	assert.True(t, fde.Cover(pc-m.bias))

	// a second lookup is served by the cache
	assert.Same(t, m, as.moduleFor(pc))
}

func TestOpenModuleMissing(t *testing.T) {
	_, err := openModule("/nonexistent/a", "/nonexistent/b", unwind.AMD64Arch())
	assert.Error(t, err)
}
