package server

import (
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"dicomconv/internal/apperr"
	"dicomconv/internal/convert"
	"dicomconv/internal/staging"
)

type artifactView struct {
	FilePath    string `json:"file_path"`
	DownloadURL string `json:"download_url"`
	Size        int64  `json:"size"`
	Digest      string `json:"blake3"`
}

func viewOf(a staging.Artifact) artifactView {
	return artifactView{
		FilePath:    a.Path,
		DownloadURL: "/artifacts/" + a.Name,
		Size:        a.Size,
		Digest:      a.Digest,
	}
}

type outputView struct {
	Format      string `json:"format"`
	Status      string `json:"status"`
	FilePath    string `json:"file_path,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
	Error       string `json:"error,omitempty"`
	Kind        string `json:"kind,omitempty"`
}

type fileView struct {
	InputFile string       `json:"input_file"`
	Outputs   []outputView `json:"outputs"`
}

type reverseView struct {
	InputFile   string  `json:"input_file"`
	InputFormat string  `json:"input_format"`
	Status      string  `json:"status"`
	OutputFile  *string `json:"output_file"`
	DownloadURL *string `json:"download_url"`
	Error       *string `json:"error"`
}

// param reads a value from the query string or the form body.
func param(c *gin.Context, key, def string) string {
	if v, ok := c.GetQuery(key); ok && v != "" {
		return v
	}
	if v, ok := c.GetPostForm(key); ok && v != "" {
		return v
	}
	return def
}

// list reads a repeated parameter from query and form, also splitting
// comma separated values.
func list(c *gin.Context, key string) []string {
	var raw []string
	raw = append(raw, c.QueryArray(key)...)
	raw = append(raw, c.PostFormArray(key)...)

	var out []string
	for _, v := range raw {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func quality(c *gin.Context) (int, error) {
	raw := param(c, "quality", "")
	if raw == "" {
		return 0, nil
	}
	q, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.New(apperr.Validation, "quality must be an integer")
	}
	return q, nil
}

func readUpload(fh *multipart.FileHeader) (convert.File, error) {
	f, err := fh.Open()
	if err != nil {
		return convert.File{}, apperr.New(apperr.Validation, "could not open upload %s: %v", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return convert.File{}, apperr.New(apperr.Validation, "could not read upload %s: %v", fh.Filename, err)
	}
	return convert.File{Name: fh.Filename, Data: data}, nil
}

func uploadedFile(c *gin.Context) (convert.File, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return convert.File{}, apperr.New(apperr.Validation, "file is required")
	}
	return readUpload(fh)
}

func uploadedFiles(c *gin.Context) ([]convert.File, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, apperr.New(apperr.Validation, "multipart form required")
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		return nil, apperr.New(apperr.Validation, "no files provided")
	}
	files := make([]convert.File, 0, len(headers))
	for _, fh := range headers {
		f, err := readUpload(fh)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

func (s *Server) health(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if s.Convert != nil && s.Convert.Encoder != nil && s.Convert.Encoder.Tools != nil {
		resp["missing_tools"] = s.Convert.Encoder.Tools.Missing()
	}
	if s.DB != nil {
		if err := s.DB.PingContext(c.Request.Context()); err != nil {
			resp["status"] = "degraded"
			resp["db_error"] = err.Error()
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) convert(c *gin.Context) {
	file, err := uploadedFile(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	q, err := quality(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	art, err := s.Convert.Convert(c.Request.Context(), convert.Request{
		File:    file,
		Format:  param(c, "format", "jpeg"),
		Quality: q,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(art))
}

func (s *Server) convertBatch(c *gin.Context) {
	files, err := uploadedFiles(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	q, err := quality(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	formats := list(c, "formats")
	if len(formats) == 0 {
		formats = []string{"jpeg"}
	}

	results, err := s.Convert.ConvertBatch(c.Request.Context(), files, formats, q)
	if err != nil {
		s.fail(c, err)
		return
	}

	views := make([]fileView, len(results))
	for i, res := range results {
		views[i] = fileView{InputFile: res.InputFile, Outputs: make([]outputView, len(res.Outputs))}
		for j, out := range res.Outputs {
			v := outputView{Format: out.Format, Status: string(out.Status), Error: out.Error, Kind: string(out.Kind)}
			if out.Artifact != nil {
				av := viewOf(*out.Artifact)
				v.FilePath, v.DownloadURL = av.FilePath, av.DownloadURL
			}
			views[i].Outputs[j] = v
		}
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) metadata(c *gin.Context) {
	file, err := uploadedFile(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	rec, err := s.Convert.ExtractMetadata(c.Request.Context(), file)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) metadataBatch(c *gin.Context) {
	files, err := uploadedFiles(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	results, err := s.Convert.ExtractMetadataBatch(c.Request.Context(), files)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

func (s *Server) toDICOM(c *gin.Context) {
	file, err := uploadedFile(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	art, err := s.Convert.ToDICOM(c.Request.Context(), convert.ReverseRequest{
		File:        file,
		InputFormat: param(c, "input_format", ""),
		PatientName: param(c, "patient_name", ""),
		PatientID:   param(c, "patient_id", ""),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(art))
}

func (s *Server) toDICOMBatch(c *gin.Context) {
	files, err := uploadedFiles(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	results, err := s.Convert.ToDICOMBatch(c.Request.Context(), files, list(c, "input_formats"),
		param(c, "patient_name", ""), param(c, "patient_id", ""))
	if err != nil {
		s.fail(c, err)
		return
	}

	views := make([]reverseView, len(results))
	for i, res := range results {
		views[i] = reverseView{
			InputFile:   res.InputFile,
			InputFormat: res.InputFormat,
			Status:      string(res.Status),
			Error:       res.Error,
		}
		if res.Artifact != nil {
			av := viewOf(*res.Artifact)
			views[i].OutputFile = &av.FilePath
			views[i].DownloadURL = &av.DownloadURL
		}
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) artifact(c *gin.Context) {
	art, err := s.Convert.Store.Lookup(c.Param("name"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.FileAttachment(art.Path, art.Name)
}
