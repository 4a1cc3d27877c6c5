package cmd

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/leftmike/chaindb/abi"
	"github.com/leftmike/chaindb/chaindb"
	"github.com/leftmike/chaindb/storage/kvdriver"
	"github.com/leftmike/chaindb/value"
)

var (
	dumpCmd = &cobra.Command{
		Use:   "dump",
		Short: "Print the rows in the store",
		Args:  cobra.NoArgs,
		RunE:  dumpRun,
	}

	dumpUndo = false

	restoreCmd = &cobra.Command{
		Use:   "restore",
		Short: "Revert the uncommitted revisions in the store",
		Args:  cobra.NoArgs,
		RunE:  restoreRun,
	}

	digestCmd = &cobra.Command{
		Use:   "digest",
		Short: "Print a hash of the contents of the store",
		Args:  cobra.NoArgs,
		RunE:  digestRun,
	}
)

func init() {
	dumpCmd.Flags().BoolVar(&dumpUndo, "undo", dumpUndo, "print the undo rows instead")

	chaindbCmd.AddCommand(dumpCmd, restoreCmd, digestCmd)
}

func formatValue(abis map[chaindb.AccountName]*abi.ABI, ov chaindb.ObjectValue) string {
	if a, ok := abis[ov.Service.Code]; ok {
		if td := a.Table(ov.Service.Table); td != nil {
			return a.FormatJSON(td.Type, ov.Value)
		}
	}
	return value.Format(ov.Value)
}

func objectRow(abis map[chaindb.AccountName]*abi.ABI, ov chaindb.ObjectValue) []string {
	return []string{
		ov.Service.Code.String(),
		ov.Service.Table.String(),
		ov.Service.Scope.String(),
		strconv.FormatUint(uint64(ov.Service.PK), 10),
		strconv.FormatInt(int64(ov.Service.Revision), 10),
		ov.Service.Payer.String(),
		strconv.Itoa(ov.Service.Size),
		formatValue(abis, ov),
	}
}

// dump reads the driver directly so that undo rows can be inspected before
// they are restored.
func dump(d *kvdriver.Driver, undo bool) error {
	rev, err := d.Revision()
	if err != nil {
		return err
	}
	abis, err := d.ABIs()
	if err != nil {
		return err
	}

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetAutoFormatHeaders(false)
	hdr := []string{"code", "table", "scope", "pk", "revision", "payer", "size", "value"}

	var cnt int
	if undo {
		tw.SetHeader(append([]string{"undo revision", "undo"}, hdr...))
		wvs, err := d.UndoObjects()
		if err != nil {
			return err
		}
		for _, wv := range wvs {
			tw.Append(append([]string{
				strconv.FormatInt(int64(wv.SetRevision), 10),
				wv.Object.Service.UndoRec.String(),
			}, objectRow(abis, wv.Object)...))
			cnt += 1
		}
	} else {
		tw.SetHeader(hdr)
		err = d.Documents(
			func(ov chaindb.ObjectValue) error {
				tw.Append(objectRow(abis, ov))
				cnt += 1
				return nil
			})
		if err != nil {
			return err
		}
	}

	fmt.Printf("revision %d\n", rev)
	tw.Render()
	fmt.Printf("(%d rows)\n", cnt)
	return nil
}

func dumpRun(cmd *cobra.Command, args []string) error {
	d, err := openDriver()
	if err != nil {
		return err
	}
	defer d.Close()

	return dump(d, dumpUndo)
}

func restoreRun(cmd *cobra.Command, args []string) error {
	ctrl, err := openController()
	if err != nil {
		return err
	}

	rev := ctrl.Revision()
	err = ctrl.Close()
	if err != nil {
		return err
	}

	log.WithField("revision", rev).Info("store restored")
	fmt.Printf("revision %d\n", rev)
	return nil
}

func digestRun(cmd *cobra.Command, args []string) error {
	d, err := openDriver()
	if err != nil {
		return err
	}
	defer d.Close()

	digest, err := d.Digest()
	if err != nil {
		return err
	}
	fmt.Println(hex.EncodeToString(digest))
	return nil
}
