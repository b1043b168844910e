package cli_test

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/calvinalkan/mdboard/internal/board"
	"github.com/calvinalkan/mdboard/internal/cli"
)

// laneIDs returns the lane ids of a board in display order by parsing show.
func laneIDs(t *testing.T, c *cli.CLI, boardID string) []string {
	t.Helper()

	var ids []string

	for _, line := range strings.Split(c.MustRun("show", boardID), "\n") {
		if !strings.HasPrefix(line, "## ") {
			continue
		}

		start := strings.Index(line, "[")
		end := strings.Index(line, "]")

		if start < 0 || end < start {
			t.Fatalf("unexpected lane line %q", line)
		}

		ids = append(ids, line[start+1:end])
	}

	return ids
}

func Test_Usage_Lists_Commands_When_No_Args(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun()

	cli.AssertContains(t, stdout, "Usage: mdboard")
	cli.AssertContains(t, stdout, "card <command>")
	cli.AssertContains(t, stdout, "print-config")
}

func Test_Unknown_Command_Fails(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("frobnicate")

	cli.AssertContains(t, stderr, "unknown command: frobnicate")
}

func Test_Boards_Lists_Default_Board_When_Data_Dir_New(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("boards")

	cli.AssertContains(t, stdout, board.DefaultBoardID)
	cli.AssertContains(t, stdout, board.DefaultBoardTitle)
	cli.AssertContains(t, c.ReadBoard(board.DefaultBoardID), "title: My Board")
}

func Test_Create_Prints_Id_And_Show_Renders_Lanes(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	id := c.MustRun("create", "Release", "plan")

	if !strings.HasPrefix(id, "board-") {
		t.Fatalf("board id = %q, want board- prefix", id)
	}

	stdout := c.MustRun("show", id)
	cli.AssertContains(t, stdout, "# Release plan")
	cli.AssertContains(t, stdout, "## Todo [")
	cli.AssertContains(t, stdout, "## In Progress [")
	cli.AssertContains(t, stdout, "## Done [")
	cli.AssertContains(t, stdout, "pos=2000")

	cli.AssertContains(t, c.MustRun("boards"), "Release plan")
}

func Test_Card_Add_Edit_Move_Remove(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	lanes := laneIDs(t, c, board.DefaultBoardID)

	if len(lanes) != 3 {
		t.Fatalf("lanes = %v, want 3", lanes)
	}

	cardID := c.MustRun("card", "add", board.DefaultBoardID, lanes[0], "Buy", "milk", "-d", "two litres", "--tag", "home=#00ff00")

	if !strings.HasPrefix(cardID, "card-") {
		t.Fatalf("card id = %q", cardID)
	}

	stdout := c.MustRun("show", board.DefaultBoardID)
	cli.AssertContains(t, stdout, "- Buy milk ["+cardID+"] pos=0  #home")
	cli.AssertContains(t, stdout, "    two litres")

	c.MustRun("card", "edit", board.DefaultBoardID, cardID, "-t", "Buy oat milk", "--clear-tags")

	stdout = c.MustRun("show", board.DefaultBoardID)
	cli.AssertContains(t, stdout, "- Buy oat milk ["+cardID+"] pos=0")
	cli.AssertNotContains(t, stdout, "#home")

	moved := c.MustRun("card", "mv", board.DefaultBoardID, cardID, lanes[2])
	cli.AssertContains(t, moved, "to "+lanes[2]+" pos=0")

	doc := c.ReadBoard(board.DefaultBoardID)
	cli.AssertContains(t, doc, "## Done\n\n### Buy oat milk")

	c.MustRun("card", "rm", board.DefaultBoardID, cardID)
	cli.AssertNotContains(t, c.MustRun("show", board.DefaultBoardID), cardID)
}

func Test_Card_Add_Fails_When_Lane_Missing(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("card", "add", board.DefaultBoardID, "lane-nope", "x")

	cli.AssertContains(t, stderr, "Lane not found")
}

func Test_Card_Edit_Fails_When_Nothing_To_Change(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("card", "edit", board.DefaultBoardID, "card-x")

	cli.AssertContains(t, stderr, "nothing to change")
	cli.AssertContains(t, stderr, "Usage: mdboard card edit")
}

func Test_Lane_Add_Rename_Order_Remove(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	laneID := c.MustRun("lane", "add", board.DefaultBoardID, "Review")

	cli.AssertContains(t, c.MustRun("show", board.DefaultBoardID), "## Review ["+laneID+"] pos=3000")

	c.MustRun("lane", "rename", board.DefaultBoardID, laneID, "Code", "review")

	lanes := laneIDs(t, c, board.DefaultBoardID)
	reversed := []string{lanes[3], lanes[2], lanes[1], lanes[0]}

	c.MustRun(append([]string{"lane", "order", board.DefaultBoardID}, reversed...)...)

	if got := laneIDs(t, c, board.DefaultBoardID); strings.Join(got, ",") != strings.Join(reversed, ",") {
		t.Fatalf("lane order = %v, want %v", got, reversed)
	}

	cli.AssertContains(t, c.MustRun("show", board.DefaultBoardID), "## Code review ["+laneID+"] pos=0")

	c.MustRun("lane", "rm", board.DefaultBoardID, laneID)

	if got := laneIDs(t, c, board.DefaultBoardID); len(got) != 3 {
		t.Fatalf("lanes after rm = %v", got)
	}
}

func Test_Lane_Without_Subcommand_Fails_With_Help(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("lane")

	cli.AssertContains(t, stderr, "requires a subcommand")
	cli.AssertContains(t, stderr, "lane add <board> <title>")
}

func Test_Delete_Refuses_Last_Board(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("delete", board.DefaultBoardID)

	cli.AssertContains(t, stderr, "Cannot delete the last board")

	id := c.MustRun("create", "Spare")
	c.MustRun("delete", board.DefaultBoardID)

	stdout := c.MustRun("boards")
	cli.AssertContains(t, stdout, id)
	cli.AssertNotContains(t, stdout, board.DefaultBoardID)
}

func Test_Rename_And_Normalize(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	c.MustRun("rename", board.DefaultBoardID, "Home")
	cli.AssertContains(t, c.MustRun("boards"), "Home")

	stdout := c.MustRun("normalize", board.DefaultBoardID)
	cli.AssertContains(t, stdout, "normalized "+board.DefaultBoardID+" (3 lanes)")
}

func Test_Show_Fails_When_Board_Missing(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("show", "board-nope")

	cli.AssertContains(t, stderr, "Board not found")
}

func Test_Migrate_Converts_Legacy_File_On_First_Run(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteFile("data/db.json", `{"boards":[{"id":"legacy-1","title":"Old board","lanes":[]}]}`)

	cli.AssertContains(t, c.MustRun("boards"), "legacy-1  Old board")
	cli.AssertContains(t, c.ReadBoard("legacy-1"), "title: Old board")
	cli.AssertContains(t, c.MustRun("migrate"), "nothing to migrate")
}

func Test_Locks_Reports_None_When_Idle(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	cli.AssertContains(t, c.MustRun("locks"), "no locks held")
	cli.AssertContains(t, c.MustRun("locks", "--cleanup"), "removed 0 stale locks")
}

func Test_Locks_Warns_About_Unreadable_Marker(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("boards")
	c.WriteFile("data/.lock/stuck.md.lock", "garbage")

	stdout, stderr, code := c.Run("locks")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1 for warnings", code)
	}

	cli.AssertContains(t, stdout, "stuck.md  unreadable")
	cli.AssertContains(t, stderr, "warning: unreadable lock marker stuck.md:")
}

func Test_Print_Config_Shows_Data_Dir_From_Project_File(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteFile(".mdboard.json", `{
		// comments are allowed
		"data_dir": "boards",
	}`)

	stdout := c.MustRun("print-config")
	cli.AssertContains(t, stdout, `"data_dir": "boards"`)
	cli.AssertContains(t, stdout, "# data_dir="+filepath.Join(c.Dir, "boards"))
	cli.AssertContains(t, stdout, "#   project: "+filepath.Join(c.Dir, ".mdboard.json"))
}

func Test_Data_Dir_Flag_Overrides_Env(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.Env["MDBOARD_DATA_DIR"] = filepath.Join(c.Dir, "from-env")

	cli.AssertContains(t, c.MustRun("print-config"), "# data_dir="+filepath.Join(c.Dir, "from-env"))
	cli.AssertContains(t, c.MustRun("--data-dir", "from-flag", "print-config"), "# data_dir="+filepath.Join(c.Dir, "from-flag"))
}

func Test_Shell_Runs_Commands_From_Input(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	script := strings.Join([]string{
		`create "Shell board"`,
		"boards",
		"bogus",
		"stats",
		"exit",
		"boards",
	}, "\n")

	stdout, stderr, code := c.RunWithInput(script, "shell")
	if code != 0 {
		t.Fatalf("exit code = %d\nstderr: %s", code, stderr)
	}

	cli.AssertContains(t, stdout, "Shell board")
	cli.AssertContains(t, stdout, "cache:")
	cli.AssertContains(t, stdout, "mdboard_cache_lookups_total{result=miss}")
	cli.AssertContains(t, stderr, "unknown command: bogus")

	if n := strings.Count(stdout, board.DefaultBoardTitle); n != 1 {
		t.Fatalf("boards ran %d times, want 1 (commands after exit must not run)\n%s", n, stdout)
	}
}

func Test_Help_Flag_Prints_Command_Help(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	_, stderr, code := c.Run("card", "mv", "--help")

	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}

	cli.AssertContains(t, stderr, "Usage: mdboard card mv")
	cli.AssertContains(t, stderr, "--position")
}
