// Package repl runs chaindb console commands against a controller.
package repl

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/leftmike/chaindb/abi"
	"github.com/leftmike/chaindb/chaindb"
	"github.com/leftmike/chaindb/name"
	"github.com/leftmike/chaindb/value"
)

// LineReader returns one command per call and io.EOF when there are no more.
type LineReader interface {
	ReadLine() (string, error)
}

type command struct {
	args  string
	nargs int
	rest  bool
	help  string
	run   func(r *repl, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"code": {args: "<account> <abi-file>", nargs: 2, help: "add or replace the abi of a code",
			run: (*repl).addCode},
		"remove-code": {args: "<account>", nargs: 1, help: "remove a code and all of its rows",
			run: (*repl).removeCode},
		"insert": {args: "<code> <table> <scope> <json>", nargs: 4, rest: true,
			help: "insert a row", run: (*repl).insert},
		"update": {args: "<code> <table> <scope> <json>", nargs: 4, rest: true,
			help: "update a row", run: (*repl).update},
		"delete": {args: "<code> <table> <scope> <pk>", nargs: 4, help: "delete a row",
			run: (*repl).delete},
		"get": {args: "<code> <table> <scope> <pk>", nargs: 4, help: "print a row",
			run: (*repl).get},
		"scan": {args: "<code> <table> <scope> [<index>]", nargs: 3,
			help: "print the rows of a table in index order", run: (*repl).scan},
		"begin": {help: "start a session", run: (*repl).begin},
		"push": {help: "keep the changes of the current session", run: (*repl).push},
		"squash": {help: "merge the current session into the enclosing session",
			run: (*repl).squash},
		"undo": {help: "revert the current session", run: (*repl).undo},
		"commit": {args: "[<revision>]", help: "make revisions permanent",
			run: (*repl).commit},
		"apply":    {help: "write every pending change", run: (*repl).apply},
		"revision": {help: "print the current revision", run: (*repl).revision},
		"help":     {help: "print this list", run: (*repl).help},
	}
}

type repl struct {
	ctrl     *chaindb.Controller
	w        io.Writer
	sessions []*chaindb.Session
}

// Repl reads commands from lr and runs them until lr returns io.EOF or quit is
// entered. Sessions still open at the end are undone.
func Repl(ctrl *chaindb.Controller, lr LineReader, w io.Writer) error {
	r := &repl{
		ctrl: ctrl,
		w:    w,
	}
	defer r.close()

	for {
		line, err := lr.ReadLine()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "quit" || line == "exit" {
			return nil
		}

		err = r.run(line)
		if err != nil {
			fmt.Fprintln(w, err)
			if errors.Is(err, chaindb.ErrCorruptState) || errors.Is(err, chaindb.ErrDriverFailure) {
				return err
			}
		}
	}
}

func (r *repl) close() {
	for len(r.sessions) > 0 {
		s := r.sessions[len(r.sessions)-1]
		r.sessions = r.sessions[:len(r.sessions)-1]
		s.Close()
	}
}

func splitArgs(s string, n int, rest bool) []string {
	var args []string
	for s != "" && (!rest || len(args) < n-1) {
		idx := strings.IndexAny(s, " \t")
		if idx < 0 {
			args = append(args, s)
			s = ""
			break
		}
		args = append(args, s[:idx])
		s = strings.TrimLeft(s[idx:], " \t")
	}
	if s != "" {
		args = append(args, s)
	}
	return args
}

func (r *repl) run(line string) error {
	cmd := line
	var s string
	if idx := strings.IndexAny(line, " \t"); idx >= 0 {
		cmd = line[:idx]
		s = strings.TrimSpace(line[idx:])
	}

	c, ok := commands[cmd]
	if !ok {
		return fmt.Errorf("repl: unknown command: %s", cmd)
	}
	args := splitArgs(s, c.nargs, c.rest)
	if len(args) < c.nargs || (c.args == "" && len(args) > 0) {
		return fmt.Errorf("repl: usage: %s %s", cmd, c.args)
	}
	return c.run(r, args)
}

func parseNames(args []string) ([]name.Name, error) {
	names := make([]name.Name, 0, len(args))
	for _, arg := range args {
		n, err := name.ParseName(arg)
		if err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, nil
}

func (r *repl) tableRequest(args []string) (chaindb.TableRequest, *abi.ABI, *abi.TableDef,
	error) {

	names, err := parseNames(args[:3])
	if err != nil {
		return chaindb.TableRequest{}, nil, nil, err
	}
	req := chaindb.TableRequest{
		Code:  names[0],
		Table: names[1],
		Scope: names[2],
	}
	info, err := r.ctrl.TableInfo(req)
	if err != nil {
		return chaindb.TableRequest{}, nil, nil, err
	}
	return req, info.ABI, info.Table, nil
}

func (r *repl) addCode(args []string) error {
	code, err := name.ParseName(args[0])
	if err != nil {
		return err
	}
	b, err := ioutil.ReadFile(args[1])
	if err != nil {
		return err
	}
	a, err := abi.ParseJSON(b)
	if err != nil {
		return err
	}
	return r.ctrl.AddCode(code, a)
}

func (r *repl) removeCode(args []string) error {
	code, err := name.ParseName(args[0])
	if err != nil {
		return err
	}
	return r.ctrl.RemoveCode(code)
}

// parseRow converts a JSON row into the serialized form used by contracts.
func (r *repl) parseRow(args []string) (chaindb.TableRequest, chaindb.PrimaryKey, []byte,
	error) {

	req, a, td, err := r.tableRequest(args)
	if err != nil {
		return chaindb.TableRequest{}, 0, nil, err
	}
	val, err := a.ParseValue(td.Type, args[3])
	if err != nil {
		return chaindb.TableRequest{}, 0, nil, err
	}
	obj, ok := val.(value.Object)
	if !ok {
		return chaindb.TableRequest{}, 0, nil, fmt.Errorf("repl: %s: expected an object", td.Type)
	}
	pk, err := td.PrimaryKey(obj)
	if err != nil {
		return chaindb.TableRequest{}, 0, nil, err
	}
	data, err := a.EncodeRow(td, obj)
	if err != nil {
		return chaindb.TableRequest{}, 0, nil, err
	}
	return req, chaindb.PrimaryKey(pk), data, nil
}

func (r *repl) insert(args []string) error {
	req, pk, data, err := r.parseRow(args)
	if err != nil {
		return err
	}
	delta, err := r.ctrl.Insert(req, req.Code, pk, data)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.w, "inserted %d (%+d bytes)\n", pk, delta)
	return nil
}

func (r *repl) update(args []string) error {
	req, pk, data, err := r.parseRow(args)
	if err != nil {
		return err
	}
	delta, err := r.ctrl.Update(req, req.Code, pk, data)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.w, "updated %d (%+d bytes)\n", pk, delta)
	return nil
}

func parsePK(s string) (chaindb.PrimaryKey, error) {
	pk, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("repl: invalid primary key: %s", s)
	}
	return chaindb.PrimaryKey(pk), nil
}

func (r *repl) delete(args []string) error {
	req, _, _, err := r.tableRequest(args)
	if err != nil {
		return err
	}
	pk, err := parsePK(args[3])
	if err != nil {
		return err
	}
	delta, err := r.ctrl.Remove(req, req.Code, pk)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.w, "deleted %d (%+d bytes)\n", pk, delta)
	return nil
}

func (r *repl) get(args []string) error {
	req, a, td, err := r.tableRequest(args)
	if err != nil {
		return err
	}
	pk, err := parsePK(args[3])
	if err != nil {
		return err
	}
	ov, err := r.ctrl.ObjectByPK(req, pk)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.w, "%s @%d\n", a.FormatJSON(td.Type, ov.Value), ov.Service.Revision)
	return nil
}

func (r *repl) scan(args []string) error {
	req, a, td, err := r.tableRequest(args)
	if err != nil {
		return err
	}
	ireq := chaindb.IndexRequest{
		Code:  req.Code,
		Scope: req.Scope,
		Table: req.Table,
		Index: abi.PrimaryIndex,
	}
	if len(args) > 3 {
		ireq.Index, err = name.ParseName(args[3])
		if err != nil {
			return err
		}
	}

	ci, err := r.ctrl.Begin(ireq)
	if err != nil {
		return err
	}
	creq := chaindb.CursorRequest{Code: req.Code, ID: ci.ID}
	defer r.ctrl.CloseCursor(creq)

	tw := tablewriter.NewWriter(r.w)
	tw.SetAutoFormatHeaders(false)
	tw.SetHeader([]string{"pk", "revision", "payer", "size", "value"})

	var cnt int
	for pk := ci.PK; pk != chaindb.EndPrimaryKey; {
		ov, err := r.ctrl.Object(creq)
		if err != nil {
			return err
		}
		tw.Append([]string{
			strconv.FormatUint(uint64(pk), 10),
			strconv.FormatInt(int64(ov.Service.Revision), 10),
			ov.Service.Payer.String(),
			strconv.Itoa(ov.Service.Size),
			a.FormatJSON(td.Type, ov.Value),
		})
		cnt += 1

		pk, err = r.ctrl.Next(creq)
		if err != nil {
			return err
		}
	}
	tw.Render()
	fmt.Fprintf(r.w, "(%d rows)\n", cnt)
	return nil
}

func (r *repl) begin(args []string) error {
	s, err := r.ctrl.MakeSession()
	if err != nil {
		return err
	}
	r.sessions = append(r.sessions, s)
	fmt.Fprintf(r.w, "revision %d\n", s.Revision())
	return nil
}

func (r *repl) popSession() (*chaindb.Session, error) {
	if len(r.sessions) == 0 {
		return nil, errors.New("repl: no session")
	}
	s := r.sessions[len(r.sessions)-1]
	r.sessions = r.sessions[:len(r.sessions)-1]
	return s, nil
}

func (r *repl) push(args []string) error {
	s, err := r.popSession()
	if err != nil {
		return err
	}
	return s.Push()
}

func (r *repl) squash(args []string) error {
	s, err := r.popSession()
	if err != nil {
		return err
	}
	return s.Squash()
}

func (r *repl) undo(args []string) error {
	s, err := r.popSession()
	if err != nil {
		return err
	}
	return s.Undo()
}

func (r *repl) commit(args []string) error {
	rev := r.ctrl.Revision()
	if len(args) > 0 {
		n, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("repl: invalid revision: %s", args[0])
		}
		rev = chaindb.Revision(n)
	}
	return r.ctrl.Commit(rev)
}

func (r *repl) apply(args []string) error {
	return r.ctrl.ApplyAllChanges()
}

func (r *repl) revision(args []string) error {
	fmt.Fprintf(r.w, "revision %d\n", r.ctrl.Revision())
	return nil
}

func (r *repl) help(args []string) error {
	for _, cmd := range []string{"code", "remove-code", "insert", "update", "delete", "get",
		"scan", "begin", "push", "squash", "undo", "commit", "apply", "revision", "help"} {

		c := commands[cmd]
		fmt.Fprintf(r.w, "%s %s\n    %s\n", cmd, c.args, c.help)
	}
	return nil
}
