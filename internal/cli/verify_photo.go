package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kdimtricp/vproctor/internal/ai"
	"github.com/kdimtricp/vproctor/internal/platform"
)

func newVerifyPhotoCmd() *cobra.Command {
	var mirror bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "verify-photo <photo.jpg> [candidate.jpg]",
		Short: "Run face verification on a photo, optionally matching a second one",
		Long: `Run the onboarding face check on a JPEG photo.

With a second image the two are compared by the identity matcher, the same
check the live session uses to raise FACE_MISMATCH.

Requires GOOGLE_VISION_API_KEY; matching also requires OPENAI_API_KEY.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			config := ai.NewConfig()
			config.GoogleVisionKey = os.Getenv("GOOGLE_VISION_API_KEY")
			config.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")

			model, err := ai.NewFaceModel(config)
			if err != nil {
				return err
			}

			reference, err := readFrame(args[0], mirror)
			if err != nil {
				return err
			}

			engine := ai.NewEngine(model, config)
			result := engine.DetectFaces(cmd.Context(), reference)

			out := cmd.OutOrStdout()
			if jsonOutput {
				if err := writeJSON(out, result); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "Faces: %d (%s, confidence %.2f)\n", result.FaceCount, result.Status, result.Confidence)
				fmt.Fprintf(out, "Valid: %t\n", result.IsValid)
				if result.Message != "" {
					fmt.Fprintf(out, "Message: %s\n", result.Message)
				}
			}

			if !result.IsValid {
				return fmt.Errorf("photo rejected: %s", result.Message)
			}
			if len(args) < 2 {
				return nil
			}

			matcher := ai.NewIdentityMatcher(config)
			if matcher == nil {
				return fmt.Errorf("identity matching needs OPENAI_API_KEY")
			}
			candidate, err := readFrame(args[1], mirror)
			if err != nil {
				return err
			}
			match, err := matcher.Match(cmd.Context(), reference, candidate)
			if err != nil {
				return fmt.Errorf("identity match failed: %w", err)
			}
			fmt.Fprintf(out, "Match: %t (similarity %.2f)\n", match.Matched, match.Similarity)
			if !match.Matched {
				return fmt.Errorf("candidate does not match the reference photo")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&mirror, "mirror", false, "mirror images horizontally first, as onboarding capture does")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output the detection result as JSON")
	return cmd
}

func readFrame(path string, mirror bool) (platform.Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return platform.Frame{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	frame := platform.Frame{Data: data}
	if !mirror {
		return frame, nil
	}
	mirrored, err := ai.MirrorFrame(frame)
	if err != nil {
		return platform.Frame{}, fmt.Errorf("failed to mirror %s: %w", path, err)
	}
	return mirrored, nil
}
