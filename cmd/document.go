package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/dashcrypt/cryptgen/internal/conf"
	"github.com/dashcrypt/cryptgen/internal/crypto"
	"github.com/dashcrypt/cryptgen/internal/kas"
	"github.com/dashcrypt/cryptgen/pkg/cryptfile"
	"github.com/dashcrypt/cryptgen/pkg/keys"
	"github.com/dashcrypt/cryptgen/pkg/pssh"
	"github.com/dashcrypt/cryptgen/pkg/track"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const cpBanner = "############# Content Protection Element #############"

// addDocumentFlags registers the flags shared by the generating commands.
func addDocumentFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("out", "o", "", "also write the cryptfile to this path")
	cmd.Flags().String("scheme", "cenc", "protection scheme: cenc (AES-CTR) or cbc1 (AES-CBC)")
	cmd.Flags().Int("iv-size", 8, "IV size in bytes, 8 or 16")
	cmd.Flags().Bool("random-iv", false, "write a random first IV for every track")
	cmd.Flags().Bool("cp", false, "print the DASH ContentProtection element of every system")
}

type documentFlags struct {
	out      string
	scheme   cryptfile.Scheme
	ivSize   int
	randomIV bool
	cp       bool
	ck       bool
}

func readDocumentFlags(cmd *cobra.Command) (documentFlags, error) {
	var (
		f   documentFlags
		err error
	)
	if f.out, err = cmd.Flags().GetString("out"); err != nil {
		return f, err
	}
	scheme, err := cmd.Flags().GetString("scheme")
	if err != nil {
		return f, err
	}
	if f.scheme, err = cryptfile.ParseScheme(scheme); err != nil {
		return f, err
	}
	if f.ivSize, err = cmd.Flags().GetInt("iv-size"); err != nil {
		return f, err
	}
	if f.randomIV, err = cmd.Flags().GetBool("random-iv"); err != nil {
		return f, err
	}
	if f.cp, err = cmd.Flags().GetBool("cp"); err != nil {
		return f, err
	}
	if cmd.Flags().Lookup("ck") != nil {
		if f.ck, err = cmd.Flags().GetBool("ck"); err != nil {
			return f, err
		}
	}
	return f, nil
}

// newTrack applies the IV flags to a track.
func (f documentFlags) newTrack(id int, pairs []keys.Pair, ops ...track.Option) (track.Track, error) {
	if f.randomIV {
		iv, err := crypto.GenerateNonce(f.ivSize)
		if err != nil {
			return track.Track{}, err
		}
		ops = append(ops, track.WithFirstIV(iv))
	}
	return track.New(id, f.ivSize, pairs, ops...)
}

// emit writes the cryptfile to stdout and, with --out, to a file. With --cp
// the ContentProtection elements follow on stdout.
func (f documentFlags) emit(cmd *cobra.Command, doc *cryptfile.Document, systems []pssh.System) error {
	if _, err := doc.WriteTo(cmd.OutOrStdout()); err != nil {
		return err
	}
	if f.out != "" {
		if err := doc.WriteFile(f.out); err != nil {
			return err
		}
		slog.Info("wrote cryptfile", slog.String("path", f.out), slog.Int("systems", len(doc.DRMInfos())), slog.Int("tracks", len(doc.Tracks())))
	}
	if f.cp {
		return printContentProtection(cmd.OutOrStdout(), systems)
	}
	return nil
}

func printContentProtection(w io.Writer, systems []pssh.System) error {
	for _, s := range systems {
		d, err := pssh.ContentProtection(s)
		if err != nil {
			return fmt.Errorf("%s: %w", s.Name(), err)
		}
		b, err := d.Marshal()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "\n%s\n%s\n%s\n", cpBanner, b, cpBanner)
	}
	return nil
}

// printKeys lists the keys of every track in hex and base64.
func printKeys(w io.Writer, tracks []track.Track) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.SetTitle("Ensure the following keys are available to the client:")
	tw.AppendHeader(table.Row{"Track", "Type", "#", "KID (hex)", "Key (hex)", "KID (base64)", "Key (base64)"})
	for _, t := range tracks {
		for i, p := range t.Keys() {
			tw.AppendRow(table.Row{t.ID(), t.Type(), i, p.IDHex(), p.KeyHex(), p.IDBase64(), p.KeyBase64()})
		}
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})
	tw.Render()
}

func systemsWithClearKey(systems []pssh.System, ck bool, tracks []track.Track) ([]pssh.System, error) {
	if !ck {
		return systems, nil
	}
	s, err := pssh.NewClearKey(pssh.KeyIDs(allKeys(tracks))...)
	if err != nil {
		return nil, err
	}
	return append(systems, s), nil
}

func allKeys(tracks []track.Track) []keys.Pair {
	var out []keys.Pair
	for _, t := range tracks {
		out = append(out, t.Keys()...)
	}
	return out
}

// rollFlag is start,count,samples: the first crypto period, the number of
// keys per track and the samples encrypted with each key. A bare number is
// the samples per key.
type rollFlag struct {
	start   int64
	count   int
	samples int
}

func parseRoll(s string) (rollFlag, error) {
	if s == "" {
		return rollFlag{}, nil
	}
	parts := strings.Split(s, ",")
	var r rollFlag
	var err error
	switch len(parts) {
	case 1:
		r.samples, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	case 3:
		if r.start, err = strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64); err != nil {
			break
		}
		if r.count, err = strconv.Atoi(strings.TrimSpace(parts[1])); err != nil {
			break
		}
		r.samples, err = strconv.Atoi(strings.TrimSpace(parts[2]))
	default:
		return rollFlag{}, fmt.Errorf("--roll %q: want <samples> or <start>,<count>,<samples>", s)
	}
	if err != nil {
		return rollFlag{}, fmt.Errorf("--roll %q: %w", s, err)
	}
	if r.start < 0 || r.count < 0 || r.samples < 0 {
		return rollFlag{}, fmt.Errorf("--roll %q: values must not be negative", s)
	}
	return r, nil
}

// parseTrackArg reads <id>:<type>.
func parseTrackArg(s string) (int, track.Type, error) {
	idPart, typePart, ok := strings.Cut(s, ":")
	id, err := strconv.Atoi(idPart)
	if err != nil || id <= 0 {
		return 0, "", fmt.Errorf("track %q: want <id>:<type> with a positive id", s)
	}
	if !ok || typePart == "" {
		return id, track.Unspecified, nil
	}
	typ, err := track.ParseType(typePart)
	if err != nil {
		return 0, "", err
	}
	return id, typ, nil
}

// parseTrackArgs reads every <id>:<type> argument and rejects duplicate IDs
// and conflicting stream types before any key is requested.
func parseTrackArgs(args []string) ([]kas.TrackRequest, error) {
	reqs := make([]kas.TrackRequest, 0, len(args))
	for _, arg := range args {
		id, typ, err := parseTrackArg(arg)
		if err != nil {
			return nil, err
		}
		for _, prev := range reqs {
			if prev.ID == id {
				return nil, fmt.Errorf("%w: %d", cryptfile.ErrDuplicateTrack, id)
			}
			if track.Conflicts(typ, prev.Type) {
				return nil, &track.ConflictError{TrackID: id, Requested: typ, Existing: prev.Type}
			}
		}
		reqs = append(reqs, kas.TrackRequest{ID: id, Type: typ})
	}
	return reqs, nil
}

func activeProfile() (conf.Profile, error) {
	return conf.ProfileFrom(viper.GetViper(), profileName)
}
