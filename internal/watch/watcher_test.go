package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// fakeLister returns canned output per file name and records call order.
type fakeLister struct {
	mu       sync.Mutex
	outputs  map[string]string
	errs     map[string]error
	calls    []string
	gate     chan struct{} // when non-nil, each call waits for a value
	inFlight int
	maxSeen  int
}

func (l *fakeLister) List(ctx context.Context, path string) (string, error) {
	name := filepath.Base(path)
	l.mu.Lock()
	l.calls = append(l.calls, name)
	l.inFlight++
	if l.inFlight > l.maxSeen {
		l.maxSeen = l.inFlight
	}
	gate := l.gate
	l.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.inFlight--
	if err := l.errs[name]; err != nil {
		return "", err
	}
	return l.outputs[name], nil
}

func (l *fakeLister) callOrder() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *fakeLister) maxConcurrent() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxSeen
}

// recordingNotifier collects messages in emission order.
type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Message(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

func writeArchive(dir, name string, mtime time.Time) string {
	path := filepath.Join(dir, name)
	Expect(os.WriteFile(path, []byte("PK\x03\x04"+name), 0644)).To(Succeed())
	Expect(os.Chtimes(path, mtime, mtime)).To(Succeed())
	return path
}

var _ = Describe("ListCandidates", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	It("orders candidates newest first", func() {
		base := time.Now().Add(-time.Hour)
		writeArchive(dir, "t1.zip", base)
		writeArchive(dir, "t3.zip", base.Add(2*time.Minute))
		writeArchive(dir, "t2.zip", base.Add(time.Minute))

		got, err := ListCandidates(dir, "*.zip")
		Expect(err).NotTo(HaveOccurred())

		var names []string
		for _, c := range got {
			names = append(names, c.Name)
		}
		Expect(names).To(Equal([]string{"t3.zip", "t2.zip", "t1.zip"}))
	})

	It("keeps name order for equal modification times", func() {
		at := time.Now().Add(-time.Hour)
		writeArchive(dir, "b.zip", at)
		writeArchive(dir, "a.zip", at)

		got, err := ListCandidates(dir, "*.zip")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(2))
		Expect(got[0].Name).To(Equal("a.zip"))
		Expect(got[1].Name).To(Equal("b.zip"))
	})

	It("skips non-matching files, directories and symlinks", func() {
		now := time.Now()
		target := writeArchive(dir, "real.zip", now)
		writeArchive(dir, "notes.txt", now)
		Expect(os.Mkdir(filepath.Join(dir, "folder.zip"), 0755)).To(Succeed())
		Expect(os.Symlink(target, filepath.Join(dir, "link.zip"))).To(Succeed())

		got, err := ListCandidates(dir, "*.zip")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(1))
		Expect(got[0].Name).To(Equal("real.zip"))
		Expect(got[0].Path).To(Equal(target))
	})

	It("matches case-insensitively", func() {
		writeArchive(dir, "UPPER.ZIP", time.Now())

		got, err := ListCandidates(dir, "*.zip")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(1))
	})

	It("fails for a missing directory", func() {
		_, err := ListCandidates(filepath.Join(dir, "missing"), "*.zip")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Watcher", func() {
	var (
		dir    string
		lister *fakeLister
		notes  *recordingNotifier
		w      *Watcher
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		lister = &fakeLister{outputs: map[string]string{}, errs: map[string]error{}}
		notes = &recordingNotifier{}
		// A long settle keeps filesystem events from racing explicit scans.
		w = New(Options{Dir: dir, Pattern: "*.zip", Settle: time.Hour}, lister, notes)
		ctx, cancel = context.WithCancel(context.Background())
		Expect(w.Start(ctx)).To(Succeed())
	})

	AfterEach(func() {
		cancel()
		Expect(w.Close()).To(Succeed())
	})

	It("reports received, listing output and processed for one archive", func() {
		path := writeArchive(dir, "backup_2024.zip", time.Now())
		lister.outputs["backup_2024.zip"] = "Archive: backup_2024.zip"

		w.OnDirectoryChanged(dir)

		Eventually(notes.all).Should(Equal([]string{
			"Received file backup_2024.zip",
			"Archive: backup_2024.zip",
			"Processed file backup_2024.zip",
		}))
		Expect(path).NotTo(BeAnExistingFile())
	})

	It("processes the newest archive first", func() {
		base := time.Now().Add(-time.Hour)
		writeArchive(dir, "t1.zip", base)
		writeArchive(dir, "t2.zip", base.Add(time.Minute))
		writeArchive(dir, "t3.zip", base.Add(2*time.Minute))

		w.Rescan()

		Eventually(lister.callOrder).Should(Equal([]string{"t3.zip", "t2.zip", "t1.zip"}))
	})

	It("surfaces listing failures and still removes the file", func() {
		path := writeArchive(dir, "broken.zip", time.Now())
		lister.errs["broken.zip"] = errors.New("exit status 9")

		w.Rescan()

		Eventually(notes.all).Should(Equal([]string{
			"Received file broken.zip",
			"Error listing file broken.zip: exit status 9",
			"Processed file broken.zip",
		}))
		Expect(path).NotTo(BeAnExistingFile())
	})

	It("reports removal failures once per unchanged file", func() {
		writeArchive(dir, "stuck.zip", time.Now())
		lister.outputs["stuck.zip"] = "listing"
		w.mu.Lock()
		w.remove = func(string) error { return errors.New("permission denied") }
		w.mu.Unlock()

		w.Rescan()
		Eventually(notes.all).Should(Equal([]string{
			"Received file stuck.zip",
			"listing",
			"Error removing file stuck.zip",
		}))

		w.Rescan()
		Consistently(notes.all, 200*time.Millisecond).Should(HaveLen(3))
	})

	It("reports empty listing output", func() {
		writeArchive(dir, "empty.zip", time.Now())

		w.Rescan()

		Eventually(notes.all).Should(Equal([]string{
			"Received file empty.zip",
			"",
			"Processed file empty.zip",
		}))
	})

	It("ignores changes reported for other directories", func() {
		writeArchive(dir, "a.zip", time.Now())

		w.OnDirectoryChanged(filepath.Join(dir, "elsewhere"))

		Consistently(lister.callOrder, 200*time.Millisecond).Should(BeEmpty())
	})

	It("never runs two scans at once", func() {
		lister.mu.Lock()
		lister.gate = make(chan struct{})
		lister.mu.Unlock()
		writeArchive(dir, "one.zip", time.Now())
		writeArchive(dir, "two.zip", time.Now().Add(-time.Minute))

		for i := 0; i < 5; i++ {
			w.Rescan()
		}
		Eventually(lister.callOrder).Should(HaveLen(1))

		lister.gate <- struct{}{}
		lister.gate <- struct{}{}
		Eventually(notes.all).Should(ContainElement("Processed file two.zip"))

		Expect(lister.maxConcurrent()).To(Equal(1))
	})
})

var _ = Describe("Watcher filesystem notifications", func() {
	It("picks up archives created after start", func() {
		dir := GinkgoT().TempDir()
		notes := &recordingNotifier{}
		w := New(Options{Dir: dir, Pattern: "*.zip", Settle: 200 * time.Millisecond}, &fakeLister{}, notes)
		Expect(w.Start(context.Background())).To(Succeed())
		defer w.Close()

		writeArchive(dir, "late.zip", time.Now())

		Eventually(notes.all, 3*time.Second).Should(Equal([]string{
			"Received file late.zip",
			"",
			"Processed file late.zip",
		}))
	})
})

var _ = Describe("Watcher lifecycle", func() {
	It("refuses to start twice", func() {
		w := New(Options{Dir: GinkgoT().TempDir()}, &fakeLister{}, &recordingNotifier{})
		Expect(w.Start(context.Background())).To(Succeed())
		defer w.Close()

		Expect(w.Start(context.Background())).NotTo(Succeed())
	})

	It("fails to start on a missing directory", func() {
		w := New(Options{Dir: filepath.Join(GinkgoT().TempDir(), "missing")}, &fakeLister{}, &recordingNotifier{})
		Expect(w.Start(context.Background())).NotTo(Succeed())
	})

	It("allows Close without Start", func() {
		w := New(Options{Dir: GinkgoT().TempDir()}, &fakeLister{}, &recordingNotifier{})
		Expect(w.Close()).To(Succeed())
	})
})

func TestWatch(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Watch Suite")
}
