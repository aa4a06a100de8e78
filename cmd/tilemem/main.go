package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/tebeka/atexit"

	"github.com/sbl8/tilesim/core"
	"github.com/sbl8/tilesim/kernels"
	"github.com/sbl8/tilesim/memory"
	"github.com/sbl8/tilesim/stream"
)

func main() {
	var (
		maxStream = flag.Int("max-stream", stream.DefaultMaxElements, "Stream channel capacity in elements (drain)")
		version   = flag.Bool("version", false, "Show version information")
	)
	flag.Usage = usage
	flag.Parse()

	if *version {
		fmt.Println("tilemem - memory image and stream tool v1.0.0")
		return
	}

	args := flag.Args()
	if len(args) < 1 {
		usage()
		atexit.Exit(1)
	}

	cmd, rest := args[0], args[1:]
	var err error
	switch cmd {
	case "init":
		err = initImage(rest)
	case "stream-init":
		err = streamInit(rest)
	case "write":
		err = write(rest, os.Stdin)
	case "load":
		err = load(rest)
	case "read":
		err = read(rest, os.Stdout)
	case "dump":
		err = dump(rest, os.Stdout)
	case "layout":
		err = layout(rest, os.Stdout)
	case "stream-len":
		err = streamLen(rest, os.Stdout)
	case "drain":
		err = drain(rest, *maxStream, os.Stdout)
	default:
		usage()
		atexit.Exit(1)
	}
	if err != nil {
		atexit.Fatalf("tilemem %s: %v", cmd, err)
	}
	atexit.Exit(0)
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options] <command> <args...>\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, `Commands:
  init <image> <bytes>             create a zero-filled memory image
  stream-init <stream>...          create empty stream channels
  write <image> <addr> [values...] write float32 values (stdin when none given)
  load <image> <addr> <file> [first count]
                                   write raw little-endian float32 values
                                   from a binary file, optionally a slice
  read <image> <addr> <count>      print float32 values
  dump <image> <addr> <count>      print raw bytes with their addresses
  layout <preset> [base]           print the preset's memory regions
  stream-len <stream>...           print queued element counts
  drain <stream>                   consume a stream and print tag/value pairs

Options:
`)
	flag.PrintDefaults()
}

func need(args []string, n int, form string) error {
	if len(args) < n {
		return fmt.Errorf("usage: %s", form)
	}
	return nil
}

func parseAddr(s string) (int64, error) {
	addr, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return addr, nil
}

func initImage(args []string) error {
	if err := need(args, 2, "init <image> <bytes>"); err != nil {
		return err
	}
	size, err := strconv.ParseInt(args[1], 0, 64)
	if err != nil {
		return fmt.Errorf("invalid size %q", args[1])
	}
	return memory.Init(args[0], size)
}

func streamInit(args []string) error {
	if err := need(args, 1, "stream-init <stream>..."); err != nil {
		return err
	}
	for _, path := range args {
		if err := stream.Init(path); err != nil {
			return err
		}
	}
	return nil
}

func parseValues(fields []string) ([]float32, error) {
	values := make([]float32, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q", f)
		}
		values = append(values, float32(v))
	}
	return values, nil
}

func write(args []string, stdin io.Reader) error {
	if err := need(args, 2, "write <image> <addr> [values...]"); err != nil {
		return err
	}
	addr, err := parseAddr(args[1])
	if err != nil {
		return err
	}

	fields := args[2:]
	if len(fields) == 0 {
		scanner := bufio.NewScanner(stdin)
		scanner.Split(bufio.ScanWords)
		for scanner.Scan() {
			fields = append(fields, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
	}
	values, err := parseValues(fields)
	if err != nil {
		return err
	}
	return memory.WriteElements(args[0], addr, values)
}

// load copies a binary parameter file into the image. first and count
// select a slice of the file in elements, so one file holding several
// tensors back to back can be split across regions.
func load(args []string) error {
	if err := need(args, 3, "load <image> <addr> <file> [first count]"); err != nil {
		return err
	}
	addr, err := parseAddr(args[1])
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[2])
	if err != nil {
		return fmt.Errorf("failed to read parameters: %w", err)
	}
	if len(data)%core.ElementBytes != 0 {
		return fmt.Errorf("%s: %d bytes is not a whole number of float32 values", args[2], len(data))
	}

	total := len(data) / core.ElementBytes
	first, count := 0, total
	if len(args) > 3 {
		if err := need(args, 5, "load <image> <addr> <file> [first count]"); err != nil {
			return err
		}
		if first, err = strconv.Atoi(args[3]); err != nil {
			return fmt.Errorf("invalid first element %q", args[3])
		}
		if count, err = strconv.Atoi(args[4]); err != nil {
			return fmt.Errorf("invalid count %q", args[4])
		}
	}
	if first < 0 || count < 0 || first+count > total {
		return fmt.Errorf("%s: elements [%d, %d) outside the %d in the file", args[2], first, first+count, total)
	}

	values := make([]float32, count)
	for i := range values {
		off := (first + i) * core.ElementBytes
		values[i] = core.Float32(data[off : off+core.ElementBytes])
	}
	return memory.WriteElements(args[0], addr, values)
}

func read(args []string, w io.Writer) error {
	if err := need(args, 3, "read <image> <addr> <count>"); err != nil {
		return err
	}
	addr, err := parseAddr(args[1])
	if err != nil {
		return err
	}
	count, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid count %q", args[2])
	}
	values, err := memory.ReadElements(args[0], addr, count)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	for _, v := range values {
		fmt.Fprintln(bw, strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	return bw.Flush()
}

func dump(args []string, w io.Writer) error {
	if err := need(args, 3, "dump <image> <addr> <count>"); err != nil {
		return err
	}
	addr, err := parseAddr(args[1])
	if err != nil {
		return err
	}
	count, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid count %q", args[2])
	}
	raw, err := memory.ReadBytes(args[0], addr, count)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	for off := 0; off < len(raw); off += 16 {
		end := min(off+16, len(raw))
		hex := make([]string, 0, 16)
		for _, b := range raw[off:end] {
			hex = append(hex, fmt.Sprintf("%02X", b))
		}
		fmt.Fprintf(bw, "%08X  %s\n", addr+int64(off), strings.Join(hex, " "))
	}
	return bw.Flush()
}

func layout(args []string, w io.Writer) error {
	if err := need(args, 1, "layout <preset> [base]"); err != nil {
		return err
	}
	var base int64
	if len(args) > 1 {
		var err error
		if base, err = parseAddr(args[1]); err != nil {
			return err
		}
	}
	op, err := kernels.Lookup(args[0])
	if err != nil {
		return err
	}
	l, err := kernels.Layout(op, base)
	if err != nil {
		return err
	}
	for _, r := range l.Regions {
		fmt.Fprintf(w, "%-8s %10d %10d bytes\n", r.Name, r.Offset, r.Size)
	}
	fmt.Fprintf(w, "%-8s %10d\n", "end", l.End())
	return nil
}

func streamLen(args []string, w io.Writer) error {
	if err := need(args, 1, "stream-len <stream>..."); err != nil {
		return err
	}
	for _, path := range args {
		n, err := stream.Len(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s %d\n", path, n)
	}
	return nil
}

func drain(args []string, max int, w io.Writer) error {
	if err := need(args, 1, "drain <stream>"); err != nil {
		return err
	}
	batch, err := stream.Drain(args[0], max)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	for i, v := range batch.Values {
		fmt.Fprintf(bw, "%d %s\n", batch.Tags[i], strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	return bw.Flush()
}
