package commands

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	submitServer string
	submitCached bool
	submitOutput string
)

var submitCmd = &cobra.Command{
	Use:   "submit <image>...",
	Short: "Upload images and download the translated PDFs",
	Long: `Uploads each image to the service, follows the live progress stream and
saves the resulting PDF next to the original file name.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSubmit(args)
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitServer, "server", "http://localhost:3000", "service base URL")
	submitCmd.Flags().BoolVar(&submitCached, "cached", true, "reuse cached recognition/translation results")
	submitCmd.Flags().StringVarP(&submitOutput, "output", "o", ".", "output directory for PDFs")
	rootCmd.AddCommand(submitCmd)
}

// frame mirrors the server's SSE frame shapes.
type frame struct {
	State    string `json:"state"`
	JobID    string `json:"jobId"`
	Progress int    `json:"progress"`
	Error    string `json:"error"`
	FileName string `json:"fileName"`
}

func runSubmit(paths []string) error {
	for _, path := range paths {
		if err := submitOne(path); err != nil {
			color.Red("%s: %v", filepath.Base(path), err)
			continue
		}
	}
	return nil
}

func submitOne(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	fileName := filepath.Base(path)
	resp, err := upload(fileName, data)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected response (%d): %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription(fileName),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	jobID, err := follow(resp.Body, bar)
	if err != nil {
		return err
	}

	out := filepath.Join(submitOutput, strings.TrimSuffix(fileName, filepath.Ext(fileName))+".pdf")
	if err := download(jobID, out); err != nil {
		return err
	}

	color.Green("%s -> %s", fileName, out)
	return nil
}

func upload(fileName string, data []byte) (*http.Response, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("image", fileName)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := mw.WriteField("cached", fmt.Sprintf("%t", submitCached)); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, submitServer+"/upload", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	// No client timeout: the stream stays open for the lifetime of the job.
	return http.DefaultClient.Do(req)
}

// follow consumes the SSE stream, driving the progress bar, and returns the
// job id once the job completes.
func follow(body io.Reader, bar *progressbar.ProgressBar) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var jobID string
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var f frame
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f); err != nil {
			continue
		}
		if f.JobID != "" {
			jobID = f.JobID
		}

		switch f.State {
		case "active":
			_ = bar.Set(f.Progress)
		case "completed":
			_ = bar.Finish()
			return jobID, nil
		case "failed":
			_ = bar.Finish()
			return "", fmt.Errorf("job failed: %s", f.Error)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}

	return "", fmt.Errorf("stream ended before completion")
}

func download(jobID, out string) error {
	resp, err := http.Get(submitServer + "/result/" + jobID)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("result not ready (%d): %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	pdf, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	return os.WriteFile(out, pdf, 0o644)
}
