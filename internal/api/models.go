package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/aistudio/internal/model"
)

func (s *Server) handleListModels(c *echo.Context) error {
	models := s.cfg.Catalog.List()
	out := ModelList{Object: "list", Data: make([]ModelResponse, 0, len(models))}
	for _, d := range models {
		out.Data = append(out.Data, modelResponse(d))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetModel(c *echo.Context) error {
	d, err := s.cfg.Catalog.Get(c.Param("id"))
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, modelResponse(d))
}

// handleImportModel accepts either a JSON body naming a server-side file or
// the model bytes themselves, with the name in the "name" query parameter.
func (s *Server) handleImportModel(c *echo.Context) error {
	var (
		d   model.Descriptor
		err error
	)
	if isJSON(c) {
		req, derr := decodeJSON[ImportRequest](c.Request().Body)
		if derr != nil {
			return writeBadRequest(c, derr.Error())
		}
		if strings.TrimSpace(req.Path) == "" {
			return writeBadRequest(c, "path is required")
		}
		d, err = s.cfg.Catalog.Import(req.Path, req.Name)
	} else {
		d, err = s.cfg.Catalog.ImportReader(c.QueryParam("name"), c.Request().Body)
	}
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusAccepted, modelResponse(d))
}

func (s *Server) handleDeleteModel(c *echo.Context) error {
	id := c.Param("id")
	if d, err := s.cfg.Catalog.Get(id); err == nil {
		s.cfg.Chats.StopUsing(d.ModelPath)
	}
	if err := s.cfg.Catalog.Remove(id); err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, DeleteResponse{ID: id, Object: "model.deleted", Deleted: true})
}

// handlePairTokenizer takes a JSON body naming a server-side file, or the
// tokenizer bytes with an optional "filename" query parameter.
func (s *Server) handlePairTokenizer(c *echo.Context) error {
	id := c.Param("id")
	src := ""
	if isJSON(c) {
		req, err := decodeJSON[PairTokenizerRequest](c.Request().Body)
		if err != nil {
			return writeBadRequest(c, err.Error())
		}
		if strings.TrimSpace(req.Path) == "" {
			return writeBadRequest(c, "path is required")
		}
		src = req.Path
	} else {
		dir, err := os.MkdirTemp("", "aistudio-tokenizer-")
		if err != nil {
			return writeDomainError(c, err)
		}
		defer func() { _ = os.RemoveAll(dir) }()
		name := filepath.Base(c.QueryParam("filename"))
		if name == "." || name == string(filepath.Separator) {
			name = "tokenizer"
		}
		src = filepath.Join(dir, name)
		if err := writeBody(src, c); err != nil {
			return writeDomainError(c, err)
		}
	}

	d, err := s.cfg.Catalog.PairTokenizer(id, src)
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, modelResponse(d))
}

func (s *Server) handleReprobe(c *echo.Context) error {
	d, err := s.cfg.Catalog.Reprobe(c.Param("id"))
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusAccepted, modelResponse(d))
}

func writeBody(path string, c *echo.Context) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.ReadFrom(c.Request().Body); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
