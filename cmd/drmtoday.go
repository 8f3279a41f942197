/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"log/slog"
	"net/url"

	"github.com/dashcrypt/cryptgen/internal/db"
	"github.com/dashcrypt/cryptgen/internal/kas"
	"github.com/dashcrypt/cryptgen/pkg/cryptfile"
	"github.com/dashcrypt/cryptgen/pkg/pssh"
	"github.com/dashcrypt/cryptgen/pkg/track"
	"github.com/spf13/cobra"
)

// drmtodayCmd represents the drmtoday command
var drmtodayCmd = &cobra.Command{
	Use:   "drmtoday <asset_id> <id>:<type> ...",
	Short: "Generate keys, ingest them into DRMToday and write the cryptfile",
	Long: `Generate one key per track (or one per crypto period with --roll), ingest
them into DRMToday with the CENC keys v2 API and write a cryptfile with
locally built Widevine and PlayReady pssh boxes. Marlin and ClearKey boxes
are added with --marlin and --ck.

With a key store configured (--store or the profile's keystoreurl) keys
generated for an asset are saved and reused when it is packaged again.
With keystorepassphrase (or CRYPTGEN_KEYSTOREPASSPHRASE) set the stored
keys are sealed with AES-GCM under a key derived from the passphrase.

  cryptgen drmtoday my-movie 1:HD 2:AUDIO
  cryptgen drmtoday --policy skip --roll 0,3,240 --store postgres://localhost/keys my-movie 1:HD 2:AUDIO`,
	Args: cobra.MinimumNArgs(2),
	RunE: drmtoday,
}

func init() {
	rootCmd.AddCommand(drmtodayCmd)

	addDocumentFlags(drmtodayCmd)
	drmtodayCmd.Flags().Bool("ck", false, "add a ClearKey system")
	drmtodayCmd.Flags().Bool("marlin", false, "add a Marlin system")
	drmtodayCmd.Flags().Bool("playready", true, "add a PlayReady system")
	drmtodayCmd.Flags().String("roll", "", "key rotation as <start>,<count>,<samples>")
	drmtodayCmd.Flags().String("policy", "abort", "what a failed track ingest does: abort or skip the track")
	drmtodayCmd.Flags().String("variant", "", "DRMToday variant ID")
	drmtodayCmd.Flags().String("store", "", "Postgres URL of the key store (default the profile's keystoreurl)")
}

func drmtoday(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
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
	policyText, err := cmd.Flags().GetString("policy")
	if err != nil {
		return err
	}
	policy, err := kas.ParseIngestPolicy(policyText)
	if err != nil {
		return err
	}
	variant, err := cmd.Flags().GetString("variant")
	if err != nil {
		return err
	}
	storeURL, err := cmd.Flags().GetString("store")
	if err != nil {
		return err
	}
	withMarlin, err := cmd.Flags().GetBool("marlin")
	if err != nil {
		return err
	}
	withPlayReady, err := cmd.Flags().GetBool("playready")
	if err != nil {
		return err
	}
	reqTracks, err := parseTrackArgs(args[1:])
	if err != nil {
		return err
	}

	p, err := activeProfile()
	if err != nil {
		return err
	}
	if p.DRMTodayURL == "" {
		return fmt.Errorf("no DRMToday URL in profile %q; run cryptgen configure or set CRYPTGEN_DRMTODAYURL", profileName)
	}
	endpoint, err := url.Parse(p.DRMTodayURL)
	if err != nil {
		return fmt.Errorf("drmtoday url: %w", err)
	}
	hc, err := keyServerClient(ctx, p, p.Merchant)
	if err != nil {
		return fmt.Errorf("drmtoday authentication: %w", err)
	}

	ops := kas.DRMTodayOptions{
		ClientOptions: kas.ClientOptions{HttpClient: hc, Endpoint: endpoint},
		Merchant:      p.Merchant,
		Policy:        policy,
	}
	if storeURL == "" {
		storeURL = p.KeyStoreURL
	}
	if storeURL != "" {
		store, err := db.NewClient(ctx, storeURL)
		if err != nil {
			return fmt.Errorf("could not establish key store connection: %w", err)
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		if p.KeyStorePassphrase != "" {
			if err := store.Unlock(ctx, p.KeyStorePassphrase); err != nil {
				return err
			}
		} else {
			slog.Warn("key store passphrase not set, content keys are stored in the clear")
		}
		ops.Store = store
	}
	client, err := kas.NewDRMTodayClient(ops)
	if err != nil {
		return err
	}

	req := kas.Request{ContentID: args[0], Variant: variant, Tracks: reqTracks}
	if roll.count > 0 {
		req.Rotation = &kas.Rotation{Start: roll.start, Count: roll.count}
	}

	issued, err := client.IssueKeys(ctx, req)
	if err != nil {
		return fmt.Errorf("drmtoday ingest: %w", err)
	}
	for _, s := range issued.Skipped {
		slog.Warn("track left out of the cryptfile", slog.Int("track", s.ID), slog.String("type", s.Type.String()), slog.Any("error", s.Err))
	}

	tracks := make([]track.Track, 0, len(issued.Tracks))
	for _, it := range issued.Tracks {
		t, err := f.newTrack(it.ID, it.Keys, track.WithType(it.Type), track.WithRotation(roll.samples))
		if err != nil {
			return err
		}
		tracks = append(tracks, t)
	}

	systems, err := localSystems(f, tracks, args[0], p.WidevineProvider, p.PlayReadyLicenseURL, withPlayReady, withMarlin)
	if err != nil {
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

// localSystems builds every pssh header from the track keys.
func localSystems(f documentFlags, tracks []track.Track, contentID, provider, licenseURL string, withPlayReady, withMarlin bool) ([]pssh.System, error) {
	pairs := allKeys(tracks)
	kids := pssh.KeyIDs(pairs)

	wv, err := pssh.NewWidevine(pssh.WidevineHeader{
		Algorithm: pssh.WidevineAESCTR,
		KeyIDs:    kids,
		Provider:  provider,
		ContentID: []byte(contentID),
	})
	if err != nil {
		return nil, err
	}
	systems := []pssh.System{wv}

	if withPlayReady {
		h := pssh.PlayReadyHeader{Keys: pairs, Checksum: true, LicenseURL: licenseURL}
		if f.scheme == cryptfile.AESCBC {
			h.Algorithm = pssh.PlayReadyAESCBC
		}
		pr, err := pssh.NewPlayReady(h)
		if err != nil {
			return nil, err
		}
		systems = append(systems, pr)
	}
	if withMarlin {
		m, err := pssh.NewMarlin(kids...)
		if err != nil {
			return nil, err
		}
		systems = append(systems, m)
	}
	return systemsWithClearKey(systems, f.ck, tracks)
}
