/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dashcrypt/cryptgen/pkg/cryptfile"
	"github.com/dashcrypt/cryptgen/pkg/keys"
	"github.com/dashcrypt/cryptgen/pkg/pssh"
	"github.com/dashcrypt/cryptgen/pkg/track"
	"github.com/spf13/cobra"
)

// clearkeyCmd represents the clearkey command
var clearkeyCmd = &cobra.Command{
	Use:   "clearkey <id>:<kid>=<key>[,<kid>=<key>...] | <id>:@<keyfile> ...",
	Short: "Write a ClearKey cryptfile from keys given on the command line",
	Long: `Write a cryptfile protecting each listed track with the given keys and a
ClearKey pssh box listing every key ID.

Each argument names a track and its keys in rotation order, either inline
or from a file holding one <kid>:<key> pair per line. Key IDs are GUIDs or
32 hex digits, keys are 32 hex digits.

  cryptgen clearkey 1:11111111-1111-1111-1111-111111111111=000102030405060708090a0b0c0d0e0f
  cryptgen clearkey --roll 96 1:@video.keys 2:@audio.keys`,
	Args: cobra.MinimumNArgs(1),
	RunE: clearkey,
}

func init() {
	rootCmd.AddCommand(clearkeyCmd)

	addDocumentFlags(clearkeyCmd)
	clearkeyCmd.Flags().Int("roll", 0, "samples encrypted with each key when a track lists several keys")
}

func clearkey(cmd *cobra.Command, args []string) error {
	f, err := readDocumentFlags(cmd)
	if err != nil {
		return err
	}
	roll, err := cmd.Flags().GetInt("roll")
	if err != nil {
		return err
	}

	tracks := make([]track.Track, 0, len(args))
	for _, arg := range args {
		id, pairs, err := parseClearKeyArg(arg)
		if err != nil {
			return err
		}
		t, err := f.newTrack(id, pairs, track.WithRotation(roll))
		if err != nil {
			return err
		}
		tracks = append(tracks, t)
	}

	ck, err := pssh.NewClearKey(pssh.KeyIDs(allKeys(tracks))...)
	if err != nil {
		return err
	}
	systems := []pssh.System{ck}
	doc, err := cryptfile.Build(f.scheme, tracks, systems)
	if err != nil {
		return err
	}
	if err := f.emit(cmd, doc, systems); err != nil {
		return err
	}
	printKeys(cmd.ErrOrStderr(), tracks)
	return nil
}

// parseClearKeyArg reads <id>:<kid>=<key>[,...] or <id>:@<keyfile>.
func parseClearKeyArg(arg string) (int, []keys.Pair, error) {
	idPart, rest, ok := strings.Cut(arg, ":")
	if !ok || rest == "" {
		return 0, nil, fmt.Errorf("track %q: want <id>:<kid>=<key>[,...] or <id>:@<keyfile>", arg)
	}
	id, err := strconv.Atoi(idPart)
	if err != nil {
		return 0, nil, fmt.Errorf("track %q: bad track id: %w", arg, err)
	}

	if path, ok := strings.CutPrefix(rest, "@"); ok {
		file, err := os.Open(path)
		if err != nil {
			return 0, nil, fmt.Errorf("track %d: %w", id, err)
		}
		defer file.Close()
		pairs, err := keys.ParseList(file)
		if err != nil {
			return 0, nil, fmt.Errorf("track %d: %s: %w", id, path, err)
		}
		return id, pairs, nil
	}

	var pairs []keys.Pair
	for _, item := range strings.Split(rest, ",") {
		kid, key, ok := keys.SplitPair(item)
		if !ok {
			return 0, nil, fmt.Errorf("track %d: want <kid>=<key>, got %q", id, item)
		}
		p, err := keys.Parse(kid, key)
		if err != nil {
			return 0, nil, fmt.Errorf("track %d: %w", id, err)
		}
		pairs = append(pairs, p)
	}
	return id, pairs, nil
}
