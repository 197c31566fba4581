package maincmd_test

import (
	"bytes"
	"context"
	"flag"
	"path/filepath"
	"testing"

	"github.com/mna/mainer"

	"github.com/mna/cflatten/internal/filetest"
	"github.com/mna/cflatten/internal/maincmd"
)

var testUpdateAsmTests = flag.Bool("test.update-asm-tests", false, "If set, replace expected asm test results with actual results.")

func TestAsm(t *testing.T) {
	ctx := context.Background()
	srcDir, resultDir := filepath.Join("testdata", "in"), filepath.Join("testdata", "out")

	for _, fi := range filetest.SourceFiles(t, srcDir, ".casm") {
		t.Run(fi.Name(), func(t *testing.T) {
			var buf, ebuf bytes.Buffer
			stdio := mainer.Stdio{
				Stdout: &buf,
				Stderr: &ebuf,
			}

			c := &maincmd.Cmd{In: filepath.Join(srcDir, fi.Name())}
			if err := c.Asm(ctx, stdio, nil); err != nil {
				t.Fatal(err)
			}
			filetest.DiffOutput(t, fi, buf.String(), resultDir, testUpdateAsmTests)
		})
	}
}
