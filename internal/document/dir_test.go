package document_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/calvinalkan/mdboard/internal/board"
	"github.com/calvinalkan/mdboard/internal/document"
	"github.com/calvinalkan/mdboard/internal/lockfile"
	"github.com/calvinalkan/mdboard/pkg/fs"
)

func newDir(t *testing.T, fsys fs.FS, afterCommit func(string)) *document.Dir {
	t.Helper()

	if fsys == nil {
		fsys = fs.NewReal()
	}

	d, err := document.NewDir(document.DirConfig{
		Root:        t.TempDir(),
		FS:          fsys,
		LockOptions: lockfile.Options{MaxRetries: 3, RetryDelay: 5 * time.Millisecond},
		AfterCommit: afterCommit,
	})
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}

	return d
}

func Test_Dir_Read_Returns_Written_Board(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := newDir(t, nil, nil)
	want := sampleBoard()

	if err := d.Write(ctx, want); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, err := os.Stat(filepath.Join(d.Root(), "board-1.md")); err != nil {
		t.Fatalf("document not at expected path: %v", err)
	}

	got, err := d.Read(ctx, want.ID)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}

	if d.Locks().IsLocked(d.Path(want.ID)) {
		t.Fatal("lock still held after Read")
	}
}

func Test_Dir_Read_Returns_ErrNotFound_When_Document_Missing(t *testing.T) {
	t.Parallel()

	d := newDir(t, nil, nil)

	_, err := d.Read(context.Background(), "nope")
	if !errors.Is(err, document.ErrRead) || !errors.Is(err, document.ErrNotFound) {
		t.Fatalf("Read: err=%v, want ErrRead and ErrNotFound", err)
	}

	var docErr *document.Error
	if !errors.As(err, &docErr) || docErr.Path != d.Path("nope") {
		t.Fatalf("Read: err=%#v, want *document.Error with path %q", err, d.Path("nope"))
	}
}

func Test_Dir_Read_Returns_ErrParse_When_Document_Corrupt(t *testing.T) {
	t.Parallel()

	d := newDir(t, nil, nil)

	if err := os.WriteFile(d.Path("bad"), []byte("no header here"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	_, err := d.Read(context.Background(), "bad")
	if !errors.Is(err, document.ErrParse) {
		t.Fatalf("Read: err=%v, want %v", err, document.ErrParse)
	}

	var docErr *document.Error
	if !errors.As(err, &docErr) || docErr.ID != "bad" {
		t.Fatalf("Read: err=%#v, want board id bad", err)
	}
}

func Test_Dir_Write_Leaves_Original_Intact_When_Rename_Fails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	faulty := fs.NewFaulty(fs.NewReal())

	var commits []string

	d := newDir(t, faulty, func(id string) { commits = append(commits, id) })
	orig := sampleBoard()

	if err := d.Write(ctx, orig); err != nil {
		t.Fatalf("Write: %v", err)
	}

	before, err := os.ReadFile(d.Path(orig.ID))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	faulty.Fail(fs.OpRename, "board-1.md", errors.New("killed before rename"))

	changed := orig.Clone()
	changed.Title = "Changed"

	err = d.Write(ctx, changed)
	if !errors.Is(err, document.ErrWrite) {
		t.Fatalf("Write: err=%v, want %v", err, document.ErrWrite)
	}

	after, err := os.ReadFile(d.Path(orig.ID))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if string(after) != string(before) {
		t.Fatalf("document changed after failed write:\n%s", after)
	}

	if diff := cmp.Diff([]string{"board-1"}, commits); diff != "" {
		t.Fatalf("AfterCommit calls mismatch (-want +got):\n%s", diff)
	}

	entries, _ := os.ReadDir(d.Root())
	for _, e := range entries {
		if e.Name() != "board-1.md" && e.Name() != lockfile.DirName {
			t.Fatalf("unexpected file left in data dir: %s", e.Name())
		}
	}
}

func Test_Dir_Update_Does_Not_Lose_Concurrent_Updates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	d, err := document.NewDir(document.DirConfig{
		Root:        t.TempDir(),
		LockOptions: lockfile.Options{MaxRetries: 200, RetryDelay: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}

	b := board.Board{ID: "b", Title: "counter", CreatedAt: t0, UpdatedAt: t0, Lanes: []board.Lane{{ID: "l", BoardID: "b", Title: "L"}}}
	if err := d.Write(ctx, b); err != nil {
		t.Fatalf("Write: %v", err)
	}

	const writers = 12

	var wg sync.WaitGroup

	for i := range writers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := d.Update(ctx, "b", func(cur board.Board) (board.Board, error) {
				cur.Lanes[0].Cards = append(cur.Lanes[0].Cards, board.Card{ID: fmt.Sprintf("c%d", i), LaneID: "l", Title: "x"})

				return cur, nil
			})
			if err != nil {
				t.Errorf("Update: %v", err)
			}
		}()
	}

	wg.Wait()

	got, err := d.Read(ctx, "b")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if n := len(got.Lanes[0].Cards); n != writers {
		t.Fatalf("cards=%d, want %d", n, writers)
	}
}

func Test_Dir_Update_Returns_Callback_Error_Without_Writing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	commits := 0
	d := newDir(t, nil, func(string) { commits++ })

	if err := d.Write(ctx, sampleBoard()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	_, err := d.Update(ctx, "board-1", func(board.Board) (board.Board, error) {
		return board.Board{}, board.ErrLaneNotFound
	})
	if !errors.Is(err, board.ErrLaneNotFound) {
		t.Fatalf("Update: err=%v, want %v", err, board.ErrLaneNotFound)
	}

	if commits != 1 {
		t.Fatalf("commits=%d, want 1", commits)
	}
}

func Test_Dir_AfterCommit_Runs_While_Lock_Held(t *testing.T) {
	t.Parallel()

	var d *document.Dir

	held := false
	d = newDir(t, nil, func(id string) { held = d.Locks().IsLocked(d.Path(id)) })

	if err := d.Write(context.Background(), sampleBoard()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if !held {
		t.Fatal("AfterCommit ran after lock release")
	}
}

func Test_Dir_Read_Returns_Lock_Error_When_Board_Locked_Elsewhere(t *testing.T) {
	t.Parallel()

	d := newDir(t, nil, nil)
	ctx := context.Background()

	if err := d.Write(ctx, sampleBoard()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := os.WriteFile(filepath.Join(d.Locks().Dir(), "board-1.md.lock"), []byte(`{"pid":1,"token":"other"}`), 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}

	_, err := d.Read(ctx, "board-1")
	if !errors.Is(err, document.ErrRead) || !errors.Is(err, lockfile.ErrAcquire) {
		t.Fatalf("Read: err=%v, want ErrRead wrapping ErrAcquire", err)
	}
}

func Test_Dir_Delete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	var commits []string

	d := newDir(t, nil, func(id string) { commits = append(commits, id) })

	if err := d.Write(ctx, sampleBoard()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := d.Delete(ctx, "board-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if ok, err := d.Exists("board-1"); err != nil || ok {
		t.Fatalf("Exists after delete=(%v, %v), want (false, nil)", ok, err)
	}

	err := d.Delete(ctx, "board-1")
	if !errors.Is(err, document.ErrDelete) || !errors.Is(err, document.ErrNotFound) {
		t.Fatalf("second Delete: err=%v, want ErrDelete and ErrNotFound", err)
	}

	if diff := cmp.Diff([]string{"board-1", "board-1"}, commits); diff != "" {
		t.Fatalf("AfterCommit calls mismatch (-want +got):\n%s", diff)
	}
}

func Test_Dir_ListAll_Returns_Document_Stems_Only(t *testing.T) {
	t.Parallel()

	d := newDir(t, nil, nil)

	if ids, err := d.ListAll(); err != nil || len(ids) != 0 {
		t.Fatalf("ListAll on empty dir=(%v, %v), want empty", ids, err)
	}

	for _, name := range []string{"b.md", "a.md", "notes.txt", ".b.md.tmp-1", ".hidden.md", "db.json"} {
		if err := os.WriteFile(filepath.Join(d.Root(), name), nil, 0o644); err != nil {
			t.Fatalf("setup: %v", err)
		}
	}

	if err := os.Mkdir(filepath.Join(d.Root(), "dir.md"), 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	ids, err := d.ListAll()
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}

	if diff := cmp.Diff([]string{"a", "b"}, ids); diff != "" {
		t.Fatalf("ListAll mismatch (-want +got):\n%s", diff)
	}
}
