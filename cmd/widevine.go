/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"log/slog"
	"net/url"

	"github.com/dashcrypt/cryptgen/internal/conf"
	"github.com/dashcrypt/cryptgen/internal/kas"
	"github.com/dashcrypt/cryptgen/pkg/cryptfile"
	"github.com/dashcrypt/cryptgen/pkg/pssh"
	"github.com/dashcrypt/cryptgen/pkg/track"
	"github.com/spf13/cobra"
)

// widevineCmd represents the widevine command
var widevineCmd = &cobra.Command{
	Use:   "widevine <content_id> <id>:<type> ...",
	Short: "Request keys from a Widevine key server and write the cryptfile",
	Long: `Request one key per track (or one per crypto period with --roll) from a
Widevine key server and write a cryptfile with every Widevine and PlayReady
pssh the server returns, in track order, and optionally a ClearKey pssh.

Track types are SD, HD, UHD, AUDIO, VIDEO or VIDEO_AUDIO.

Requests are signed with the key and IV of the --sign properties file or of
the active profile. Without either, the widevine_test provider is used.

  cryptgen widevine my-movie 1:HD 2:AUDIO
  cryptgen widevine --sign wv.properties --roll 0,4,240 my-movie 1:HD`,
	Args: cobra.MinimumNArgs(2),
	RunE: widevine,
}

func init() {
	rootCmd.AddCommand(widevineCmd)

	addDocumentFlags(widevineCmd)
	widevineCmd.Flags().Bool("ck", false, "add a ClearKey system")
	widevineCmd.Flags().String("sign", "", "properties file with url, key, iv and provider")
	widevineCmd.Flags().String("roll", "", "key rotation as <start>,<count>,<samples>")
	widevineCmd.Flags().String("policy", "", "content policy name")
}

func widevine(cmd *cobra.Command, args []string) error {
	f, err := readDocumentFlags(cmd)
	if err != nil {
		return err
	}
	rollText, err := cmd.Flags().GetString("roll")
	if err != nil {
		return err
	}
	roll, err := parseRoll(rollText)
	if err != nil {
		return err
	}
	signFile, err := cmd.Flags().GetString("sign")
	if err != nil {
		return err
	}
	policy, err := cmd.Flags().GetString("policy")
	if err != nil {
		return err
	}

	reqTracks, err := parseTrackArgs(args[1:])
	if err != nil {
		return err
	}

	ops, err := widevineOptions(signFile)
	if err != nil {
		return err
	}
	ops.Policy = policy
	client, err := kas.NewWidevineClient(ops)
	if err != nil {
		return err
	}

	req := kas.Request{ContentID: args[0], Tracks: reqTracks}
	if roll.count > 0 {
		req.Rotation = &kas.Rotation{Start: roll.start, Count: roll.count}
	}

	issued, err := client.IssueKeys(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("widevine key request: %w", err)
	}

	tracks := make([]track.Track, 0, len(issued.Tracks))
	for _, it := range issued.Tracks {
		t, err := f.newTrack(it.ID, it.Keys, track.WithType(it.Type), track.WithRotation(roll.samples))
		if err != nil {
			return err
		}
		tracks = append(tracks, t)
	}

	systems, err := widevineSystems(issued, tracks, client.Provider, args[0])
	if err != nil {
		return err
	}
	if systems, err = systemsWithClearKey(systems, f.ck, tracks); err != nil {
		return err
	}
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

// widevineOptions takes the key server settings from a properties file when
// one is given, else from the active profile.
func widevineOptions(signFile string) (kas.WidevineOptions, error) {
	var (
		ops      kas.WidevineOptions
		endpoint string
	)
	if signFile != "" {
		props, err := conf.LoadSigningProperties(signFile)
		if err != nil {
			return ops, err
		}
		endpoint = props.URL
		ops.Provider = props.Provider
		ops.SigningKey = props.Key
		ops.SigningIV = props.IV
	} else {
		p, err := activeProfile()
		if err != nil {
			return ops, err
		}
		endpoint = p.WidevineURL
		ops.Provider = p.WidevineProvider
		if ops.SigningKey, ops.SigningIV, err = p.SigningKey(); err != nil {
			return ops, err
		}
	}
	if endpoint != "" {
		u, err := url.Parse(endpoint)
		if err != nil {
			return ops, fmt.Errorf("widevine url: %w", err)
		}
		ops.Endpoint = u
	}
	return ops, nil
}

// widevineSystems turns every Widevine and PlayReady payload the server
// returned into a system, in the order the tracks were issued. Identical
// payloads shared between tracks are written once. Without a Widevine
// payload the header is built locally.
func widevineSystems(issued *kas.Issuance, tracks []track.Track, provider, contentID string) ([]pssh.System, error) {
	var systems []pssh.System
	seen := make(map[string]struct{})
	hasWV := false
	for _, t := range issued.Tracks {
		for _, p := range t.Payloads {
			k := p.SystemID.String() + string(p.Data)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			switch p.SystemID {
			case pssh.WidevineSystemID:
				s, err := pssh.WidevineFromPayload(p.Data)
				if err != nil {
					return nil, fmt.Errorf("track %d: %w", t.ID, err)
				}
				systems = append(systems, s)
				hasWV = true
			case pssh.PlayReadySystemID:
				s, err := pssh.PlayReadyFromPayload(p.Data)
				if err != nil {
					return nil, fmt.Errorf("track %d: %w", t.ID, err)
				}
				systems = append(systems, s)
			}
		}
	}
	if hasWV {
		return systems, nil
	}

	slog.Debug("no widevine pssh in the response, building it locally")
	s, err := pssh.NewWidevine(pssh.WidevineHeader{
		Algorithm: pssh.WidevineAESCTR,
		KeyIDs:    pssh.KeyIDs(allKeys(tracks)),
		Provider:  provider,
		ContentID: []byte(contentID),
	})
	if err != nil {
		return nil, err
	}
	return append([]pssh.System{s}, systems...), nil
}
