// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/fusexauth/lib/clock"
	"github.com/bureau-foundation/fusexauth/lib/config"
	"github.com/bureau-foundation/fusexauth/lib/shardcache"
	"github.com/bureau-foundation/fusexauth/lib/testutil"
)

var errNoTicket = errors.New("no current ticket")

// fakeTickets accepts the ccache names in valid and records every
// check.
type fakeTickets struct {
	mu      sync.Mutex
	valid   map[string]bool
	checked []string
}

func (f *fakeTickets) Check(name string, uid uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checked = append(f.checked, name)
	if f.valid[name] {
		return nil
	}
	return errNoTicket
}

// fakeRunAs runs fn without switching identity and records the ids it
// was asked for.
type fakeRunAs struct {
	mu    sync.Mutex
	calls [][2]uint32
	err   error
}

func (f *fakeRunAs) run(uid, gid uint32, fn func() error) error {
	f.mu.Lock()
	f.calls = append(f.calls, [2]uint32{uid, gid})
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return fn()
}

type testGroup struct {
	*AuthenticationGroup
	clock   *clock.FakeClock
	tickets *fakeTickets
	runAs   *fakeRunAs
	sss     *MemorySSSRegistry
}

// newTestGroup builds a stack over an empty proc root with a fake
// clock. The security checker starts with one unrelated injection so
// no lookup ever reaches the real filesystem.
func newTestGroup(t *testing.T, configure func(*config.Config)) *testGroup {
	t.Helper()
	cfg := config.Default()
	cfg.ProcRoot = t.TempDir()
	if configure != nil {
		configure(cfg)
	}

	fake := clock.Fake(testEpoch)
	tickets := &fakeTickets{valid: make(map[string]bool)}
	runAs := &fakeRunAs{}
	sss := NewMemorySSSRegistry()
	group, err := NewAuthenticationGroup(GroupOptions{
		Config:  cfg,
		Clock:   fake,
		Tickets: tickets,
		RunAs:   runAs.run,
		SSS:     sss,
	})
	if err != nil {
		t.Fatalf("NewAuthenticationGroup: %v", err)
	}
	t.Cleanup(group.Close)

	group.Security.Inject("/nonexistent/placeholder", 0, 0o400, testEpoch)
	return &testGroup{AuthenticationGroup: group, clock: fake, tickets: tickets, runAs: runAs, sss: sss}
}

// process injects a process with ppid 1 and the given environment.
func (g *testGroup) process(pid, ppid int, startTime, flags uint64, env ...string) {
	g.Processes.Inject(pid, processInfo(pid, ppid, startTime, flags, "bash"))
	if env != nil {
		g.Environ.Inject(pid, NewEnvironment(env...), 0)
	}
}

func (g *testGroup) retrieve(t *testing.T, pid int, uid, gid uint32, reconnect bool) *ProcessSnapshot {
	t.Helper()
	handle, err := g.ProcessCache.Retrieve(pid, uid, gid, reconnect)
	if err != nil {
		t.Fatalf("Retrieve(%d, %d, %d, %v): %v", pid, uid, gid, reconnect, err)
	}
	t.Cleanup(handle.Release)
	return handle.Value()
}

func unixOnly(cfg *config.Config) {
	cfg.UseKrb5 = false
	cfg.UseX509 = false
	cfg.UseSSS = false
	cfg.UseOAuth2 = false
	cfg.UseZTN = false
}

func TestUnixAuthenticationStability(t *testing.T) {
	group := newTestGroup(t, unixOnly)
	group.process(1234, 1, 9999, 0)

	first := group.retrieve(t, 1234, 5, 6, false).Login()
	second := group.retrieve(t, 1234, 5, 6, false).Login()
	if first != second {
		t.Fatalf("repeated retrieve changed login: %s then %s", first, second)
	}
	if got := group.retrieve(t, 1234, 5, 6, false).XrdCreds(); got != "xrd.wantprot=unix" {
		t.Fatalf("XrdCreds() = %q, want xrd.wantprot=unix", got)
	}

	reconnected := group.retrieve(t, 1234, 5, 6, true).Login()
	if reconnected.ConnectionID() != first.ConnectionID()+1 {
		t.Fatalf("reconnect ConnectionID = %d, want %d", reconnected.ConnectionID(), first.ConnectionID()+1)
	}
	if reconnected == first {
		t.Fatal("reconnect kept the same login")
	}
	if after := group.retrieve(t, 1234, 5, 6, false).Login(); after != reconnected {
		t.Fatalf("login after reconnect = %s, want %s", after, reconnected)
	}

	other := group.retrieve(t, 1234, 7, 6, false).Login()
	if other == first || other == reconnected {
		t.Fatalf("uid 7 login %s collides with uid 5", other)
	}
}

func TestKerberosSuccess(t *testing.T) {
	group := newTestGroup(t, nil)
	group.process(1234, 1, 9999, 0, "KRB5CCNAME=FILE:/tmp/krb5cc_5", "HOME=/home/user")
	group.Security.Inject("/tmp/krb5cc_5", 5, 0o400, testEpoch)

	snapshot := group.retrieve(t, 1234, 5, 6, false)
	want := "xrd.k5ccname=/tmp/krb5cc_5&xrd.secgid=6&xrd.secuid=5&xrd.wantprot=krb5,unix"
	if got := snapshot.XrdCreds(); got != want {
		t.Fatalf("XrdCreds() =\n%s\nwant\n%s", got, want)
	}
	if got := snapshot.Login().String(); got != "AAAAAAAB" {
		t.Fatalf("first bound login = %q, want AAAAAAAB", got)
	}
}

func TestKerberosFallbackToUnix(t *testing.T) {
	group := newTestGroup(t, nil)
	group.process(1234, 1, 9999, 0, "KRB5CCNAME=FILE:/tmp/krb5cc_5")

	snapshot := group.retrieve(t, 1234, 5, 6, false)
	if got := snapshot.XrdCreds(); got != "xrd.wantprot=unix" {
		t.Fatalf("XrdCreds() = %q, want xrd.wantprot=unix", got)
	}
}

func TestBadPermissionsFallThroughToX509(t *testing.T) {
	group := newTestGroup(t, nil)
	group.process(1234, 1, 9999, 0, "KRB5CCNAME=/tmp/krb5cc_5", "X509_USER_PROXY=/tmp/x509up_u5")
	group.Security.Inject("/tmp/krb5cc_5", 5, 0o644, testEpoch)
	group.Security.Inject("/tmp/x509up_u5", 5, 0o600, testEpoch)

	want := "xrd.gsiusrpxy=/tmp/x509up_u5&xrd.secgid=6&xrd.secuid=5&xrd.wantprot=gsi,unix"
	if got := group.retrieve(t, 1234, 5, 6, false).XrdCreds(); got != want {
		t.Fatalf("XrdCreds() = %q, want %q", got, want)
	}
}

func TestX509FirstWhenConfigured(t *testing.T) {
	group := newTestGroup(t, func(cfg *config.Config) { cfg.TryKrb5First = false })
	group.process(1234, 1, 9999, 0, "KRB5CCNAME=/tmp/krb5cc_5", "X509_USER_PROXY=/tmp/x509up_u5")
	group.Security.Inject("/tmp/krb5cc_5", 5, 0o600, testEpoch)
	group.Security.Inject("/tmp/x509up_u5", 5, 0o600, testEpoch)

	if got := group.retrieve(t, 1234, 5, 6, false).XrdCreds(); got != "xrd.gsiusrpxy=/tmp/x509up_u5&xrd.secgid=6&xrd.secuid=5&xrd.wantprot=gsi,unix" {
		t.Fatalf("XrdCreds() = %q, want x509", got)
	}
}

func TestSnapshotReuseAndCredentialChange(t *testing.T) {
	group := newTestGroup(t, nil)
	group.process(1234, 1, 9999, 0, "KRB5CCNAME=/tmp/krb5cc_5")
	group.Security.Inject("/tmp/krb5cc_5", 5, 0o400, testEpoch)

	first := group.retrieve(t, 1234, 5, 6, false)
	if again := group.retrieve(t, 1234, 5, 6, false); again != first {
		t.Fatal("an unchanged process and credential was not served from cache")
	}

	// The ccache was renewed: same path, new mtime.
	group.Security.Inject("/tmp/krb5cc_5", 5, 0o400, testEpoch.Add(time.Hour))
	renewed := group.retrieve(t, 1234, 5, 6, false)
	if renewed == first {
		t.Fatal("a changed credential file was served from cache")
	}
	if first.Identity().Credentials().Valid() {
		t.Fatal("stale credentials were not invalidated")
	}
	if renewed.Login().ConnectionID() != first.Login().ConnectionID()+1 {
		t.Fatalf("renewed ConnectionID = %d, want %d", renewed.Login().ConnectionID(), first.Login().ConnectionID()+1)
	}
}

func TestRecycledPidSharesCredentialIdentity(t *testing.T) {
	group := newTestGroup(t, nil)
	group.process(1234, 1, 9999, 0, "KRB5CCNAME=/tmp/krb5cc_5")
	group.Security.Inject("/tmp/krb5cc_5", 5, 0o400, testEpoch)

	first := group.retrieve(t, 1234, 5, 6, false)

	// Same pid, later start: a different process claiming the same
	// credential. It gets a new snapshot but the same identity.
	group.process(1234, 1, 20000, 0)
	second := group.retrieve(t, 1234, 5, 6, false)
	if second == first {
		t.Fatal("recycled pid was served the old snapshot")
	}
	if second.Info().StartTime() != 20000 {
		t.Fatalf("new snapshot StartTime = %d", second.Info().StartTime())
	}
	if second.Identity() != first.Identity() {
		t.Fatal("same credential claim produced a second identity")
	}
}

func TestDeadProcessServedFromCache(t *testing.T) {
	group := newTestGroup(t, unixOnly)
	group.process(1234, 1, 9999, 0)
	group.process(1, 0, 1, 0)

	first := group.retrieve(t, 1234, 5, 6, false)
	group.Processes.RemoveInjection(1234)

	handle, err := group.ProcessCache.Retrieve(1234, 5, 6, false)
	if err != nil {
		t.Fatalf("Retrieve after exit: %v", err)
	}
	defer handle.Release()
	if handle.Value() != first {
		t.Fatal("exited process was not served its cached snapshot")
	}

	if _, err := group.ProcessCache.Retrieve(4321, 5, 6, false); !errors.Is(err, ErrProcessNotFound) {
		t.Fatalf("Retrieve of an unknown pid = %v, want ErrProcessNotFound", err)
	}
}

func TestForkNoExecChecksParentFirst(t *testing.T) {
	cases := []struct {
		name      string
		heuristic bool
		flags     uint64
		alarm     bool
		want      string
	}{
		{"forked child", true, pfForkNoExec, false, "/tmp/parent"},
		{"exec'd child", true, 0, false, "/tmp/child"},
		{"heuristic off", false, pfForkNoExec, false, "/tmp/child"},
		{"execve alarm", false, 0, true, "/tmp/parent"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			group := newTestGroup(t, func(cfg *config.Config) { cfg.ForknoexecHeuristic = tc.heuristic })
			group.process(1000, 1, 500, 0, "KRB5CCNAME=/tmp/parent")
			group.process(1234, 1000, 9999, tc.flags, "KRB5CCNAME=/tmp/child")
			group.Security.Inject("/tmp/parent", 5, 0o400, testEpoch)
			group.Security.Inject("/tmp/child", 5, 0o400, testEpoch)

			handle, err := group.ProcessCache.RetrieveRequest(Request{PID: 1234, UID: 5, GID: 6, ExecveAlarm: tc.alarm})
			if err != nil {
				t.Fatalf("RetrieveRequest: %v", err)
			}
			defer handle.Release()
			if got := handle.Value().Identity().Credentials().UserCredentials().Fname; got != tc.want {
				t.Fatalf("bound %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParentEnvironmentUsedWhenChildHasNone(t *testing.T) {
	group := newTestGroup(t, nil)
	group.process(1000, 1, 500, 0, "X509_USER_PROXY=/tmp/x509up_u5")
	group.process(1234, 1000, 9999, 0, "HOME=/home/user")
	group.Security.Inject("/tmp/x509up_u5", 5, 0o400, testEpoch)

	if got := group.retrieve(t, 1234, 5, 6, false).Identity().Credentials().UserCredentials().Type; got != CredentialX509 {
		t.Fatalf("bound type = %v, want x509 from the parent", got)
	}
}

func TestGlobalBindingAndDefaultPaths(t *testing.T) {
	t.Run("global binding", func(t *testing.T) {
		group := newTestGroup(t, func(cfg *config.Config) { cfg.GlobalBindingDir = "/var/run/eosd/credentials" })
		group.process(1234, 1, 9999, 0, "HOME=/home/user")
		group.Security.Inject("/var/run/eosd/credentials/uid5.krb5", 5, 0o400, testEpoch)
		group.Security.Inject("/tmp/krb5cc_5", 5, 0o400, testEpoch)

		if got := group.retrieve(t, 1234, 5, 6, false).Identity().Credentials().UserCredentials().Fname; got != "/var/run/eosd/credentials/uid5.krb5" {
			t.Fatalf("bound %q, want the global binding", got)
		}
	})
	t.Run("default paths", func(t *testing.T) {
		group := newTestGroup(t, nil)
		group.process(1234, 1, 9999, 0, "HOME=/home/user")
		group.Security.Inject("/tmp/x509up_u5", 5, 0o400, testEpoch)

		if got := group.retrieve(t, 1234, 5, 6, false).Identity().Credentials().UserCredentials().Fname; got != "/tmp/x509up_u5" {
			t.Fatalf("bound %q, want the default x509 proxy", got)
		}
	})
}

func TestFallbackToNobody(t *testing.T) {
	group := newTestGroup(t, func(cfg *config.Config) { cfg.FallbackToNobody = true })
	group.process(1234, 1, 9999, 0, "HOME=/home/user")

	snapshot := group.retrieve(t, 1234, 5, 6, false)
	if got := snapshot.Identity().Credentials().UserCredentials().Type; got != CredentialNobody {
		t.Fatalf("bound type = %v, want nobody", got)
	}
	if snapshot.Login().String()[0] != 'A' {
		t.Fatalf("nobody login %q is not a connection login", snapshot.Login())
	}
	if got := snapshot.XrdCreds(); got != "xrd.wantprot=unix" {
		t.Fatalf("XrdCreds() = %q", got)
	}
}

func TestKeyringCredentials(t *testing.T) {
	group := newTestGroup(t, nil)
	group.tickets.valid["KEYRING:persistent:5"] = true
	group.process(1234, 1, 9999, 0, "KRB5CCNAME=KEYRING:persistent:5")

	want := "xrd.k5ccname=KEYRING:persistent:5&xrd.secgid=6&xrd.secuid=5&xrd.wantprot=krb5,unix"
	if got := group.retrieve(t, 1234, 5, 6, false).XrdCreds(); got != want {
		t.Fatalf("XrdCreds() = %q, want %q", got, want)
	}
	if len(group.runAs.calls) != 1 || group.runAs.calls[0] != [2]uint32{5, 6} {
		t.Fatalf("ticket check ran as %v, want [[5 6]]", group.runAs.calls)
	}

	// Another user's keyring is refused before any ticket check.
	group.process(4321, 1, 9999, 0, "KRB5CCNAME=KEYRING:persistent:5")
	if got := group.retrieve(t, 4321, 7, 6, false).XrdCreds(); got != "xrd.wantprot=unix" {
		t.Fatalf("foreign keyring XrdCreds() = %q, want unix", got)
	}
	if len(group.tickets.checked) != 1 {
		t.Fatalf("ticket checks = %v, want only the owner's", group.tickets.checked)
	}
}

func TestZTNBearerToken(t *testing.T) {
	group := newTestGroup(t, func(cfg *config.Config) { cfg.UseZTN = true })
	group.process(1234, 1, 9999, 0, "XDG_RUNTIME_DIR=/run/user/5")
	group.Security.Inject("/run/user/5/bt_u5", 5, 0o600, testEpoch)

	want := "xrd.secgid=6&xrd.secuid=5&xrd.wantprot=ztn,unix&xrd.ztn=/run/user/5/bt_u5"
	if got := group.retrieve(t, 1234, 5, 6, false).XrdCreds(); got != want {
		t.Fatalf("XrdCreds() = %q, want %q", got, want)
	}
}

func TestSSSEndorsementRegistersLogin(t *testing.T) {
	group := newTestGroup(t, func(cfg *config.Config) {
		unixOnly(cfg)
		cfg.UseSSS = true
	})
	group.process(1234, 1, 9999, 0, "XrdSecsssENDORSEMENT=signed-claim", "EOS_FUSE_SECRET=s3cret")

	snapshot := group.retrieve(t, 1234, 5, 6, false)
	if got := snapshot.XrdCreds(); got != "xrd.secgid=6&xrd.secuid=5&xrd.wantprot=sss,unix" {
		t.Fatalf("XrdCreds() = %q", got)
	}
	if got := snapshot.Identity().SecretKey(); got != "s3cret" {
		t.Fatalf("SecretKey() = %q, want s3cret", got)
	}
	entity, ok := group.sss.Lookup(snapshot.Login().String())
	if !ok {
		t.Fatalf("login %s was not registered", snapshot.Login())
	}
	if entity.Endorsement != "signed-claim" || entity.Name == "" || entity.Group == "" {
		t.Fatalf("registered entity = %+v", entity)
	}
}

func TestCredentialCopiedFromForeignJail(t *testing.T) {
	storeDir := t.TempDir()
	group := newTestGroup(t, func(cfg *config.Config) { cfg.CredentialStore = storeDir })
	group.process(1234, 1, 9999, 0, "KRB5CCNAME=/tmp/krb5cc_5")
	group.Security.InjectContents("/tmp/krb5cc_5", 5, 0o600, testEpoch, []byte("ccache contents"))

	creds := group.retrieve(t, 1234, 5, 6, false).Identity().Credentials()
	wantPath := group.Store.PathFor([]byte("ccache contents"))
	if creds.CopyPath() != wantPath {
		t.Fatalf("CopyPath() = %q, want %q", creds.CopyPath(), wantPath)
	}
	want := "xrd.k5ccname=" + wantPath + "&xrd.secgid=6&xrd.secuid=5&xrd.wantprot=krb5,unix"
	if got := creds.ToXrdParams(); got != want {
		t.Fatalf("ToXrdParams() = %q, want %q", got, want)
	}
}

func TestEnvironmentTimeoutFallsThrough(t *testing.T) {
	group := newTestGroup(t, nil)
	group.Processes.Inject(1234, processInfo(1234, 1, 9999, 0, "bash"))
	group.Environ.Inject(1234, NewEnvironment("KRB5CCNAME=/tmp/krb5cc_5"), time.Hour)
	group.Security.Inject("/tmp/krb5cc_5", 5, 0o400, testEpoch)

	type result struct {
		handle *shardcache.Handle[*ProcessSnapshot]
		err    error
	}
	results := make(chan result, 1)
	book := NewLogbook(true)
	go func() {
		handle, err := group.ProcessCache.RetrieveRequest(Request{PID: 1234, UID: 5, GID: 6, Logbook: book})
		results <- result{handle, err}
	}()

	// Two cache sweepers, the stuck environ read, and the caller's
	// deadline.
	group.clock.WaitForTimers(4)
	group.clock.Advance(group.Config.EnvironTimeout())

	got := testutil.RequireReceive(t, results, 5*time.Second, "retrieve with stuck environ read")
	if got.err != nil {
		t.Fatalf("RetrieveRequest: %v", got.err)
	}
	defer got.handle.Release()

	// The default paths still find the ccache.
	if fname := got.handle.Value().Identity().Credentials().UserCredentials().Fname; fname != "/tmp/krb5cc_5" {
		t.Fatalf("bound %q after timeout, want the default path", fname)
	}
	if book.String() == "" {
		t.Fatal("logbook recorded nothing")
	}

	// Release the stuck worker so Close can join it.
	group.clock.Advance(time.Hour)
}

func TestRetrieveCaller(t *testing.T) {
	group := newTestGroup(t, unixOnly)
	group.process(1234, 1, 9999, 0)

	if _, err := group.ProcessCache.RetrieveCaller(t.Context(), false); !errors.Is(err, ErrNoCaller) {
		t.Fatalf("RetrieveCaller without caller = %v, want ErrNoCaller", err)
	}

	ctx := callerContext(t.Context(), 1234, 5, 6)
	handle, err := group.ProcessCache.RetrieveCaller(ctx, false)
	if err != nil {
		t.Fatalf("RetrieveCaller: %v", err)
	}
	defer handle.Release()
	if want := NewUnixLoginIdentifier(5, 6, 1234, 0); handle.Value().Login() != want {
		t.Fatalf("Login() = %s, want %s", handle.Value().Login(), want)
	}
	if !ExecveAlarmFrom(WithExecveAlarm(ctx)) || ExecveAlarmFrom(ctx) {
		t.Fatal("execve alarm context marking is wrong")
	}
}

func TestNewAuthenticationGroupRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.EnvironReaderWorkers = 0
	if _, err := NewAuthenticationGroup(GroupOptions{Config: cfg}); err == nil {
		t.Fatal("NewAuthenticationGroup accepted zero environ workers")
	}
	if _, err := NewAuthenticationGroup(GroupOptions{}); err == nil {
		t.Fatal("NewAuthenticationGroup accepted a nil config")
	}
}
