package tools

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/jedisct1/go-minisign"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

type archiveFormat string

const (
	archiveFormatZip   archiveFormat = "zip"
	archiveFormatTarGz archiveFormat = "tar.gz"
)

var (
	zipMagic  = []byte("PK\x03\x04")
	gzipMagic = []byte{0x1f, 0x8b}
)

// ArchiveReport summarises a validated archive.
type ArchiveReport struct {
	Format  archiveFormat
	Entries int
	Markers []string
}

// ValidateArchive checks a downloaded tool archive before anything is
// extracted from it: declared size, signature bytes, a full read of every
// entry, a non-empty listing and at least one entry whose name contains a
// marker.
func ValidateArchive(archivePath string, declaredSize int64, markers []string) (ArchiveReport, error) {
	info, err := os.Stat(archivePath)
	if err != nil {
		return ArchiveReport{}, fmt.Errorf("stat archive: %w", err)
	}
	if declaredSize > 0 && info.Size() != declaredSize {
		return ArchiveReport{}, fmt.Errorf("archive is %d bytes, release declares %d", info.Size(), declaredSize)
	}

	format, err := sniffFormat(archivePath)
	if err != nil {
		return ArchiveReport{}, err
	}

	var names []string
	switch format {
	case archiveFormatZip:
		names, err = testZip(archivePath)
	case archiveFormatTarGz:
		names, err = testTarGz(archivePath)
	}
	if err != nil {
		return ArchiveReport{}, err
	}
	if len(names) == 0 {
		return ArchiveReport{}, errors.New("archive contains no files")
	}

	report := ArchiveReport{Format: format, Entries: len(names)}
	if len(markers) == 0 {
		return report, nil
	}
	for _, name := range names {
		base := strings.ToLower(path.Base(name))
		for _, m := range markers {
			if strings.Contains(base, strings.ToLower(m)) {
				report.Markers = append(report.Markers, name)
				break
			}
		}
	}
	if len(report.Markers) == 0 {
		return ArchiveReport{}, fmt.Errorf("archive lists none of the expected entries (%s)", strings.Join(markers, ", "))
	}
	return report, nil
}

func sniffFormat(archivePath string) (archiveFormat, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	head := make([]byte, 4)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("read archive header: %w", err)
	}
	head = head[:n]
	switch {
	case bytes.HasPrefix(head, zipMagic):
		return archiveFormatZip, nil
	case bytes.HasPrefix(head, gzipMagic):
		return archiveFormatTarGz, nil
	default:
		return "", fmt.Errorf("unrecognised archive signature % x", head)
	}
}

// testZip reads every entry so the reader verifies each CRC.
func testZip(archivePath string) ([]string, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	defer reader.Close()

	var names []string
	for _, file := range reader.File {
		if file.FileInfo().IsDir() {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("open zip entry %s: %w", file.Name, err)
		}
		_, err = io.Copy(io.Discard, rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("test zip entry %s: %w", file.Name, err)
		}
		names = append(names, file.Name)
	}
	return names, nil
}

func testTarGz(archivePath string) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer gz.Close()

	var names []string
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar header: %w", err)
		}
		if _, err := io.Copy(io.Discard, tr); err != nil {
			return nil, fmt.Errorf("test tar entry %s: %w", header.Name, err)
		}
		if header.Typeflag == tar.TypeReg {
			names = append(names, header.Name)
		}
	}
	return names, nil
}

// VerifySignature checks archivePath against a minisign signature file.
func VerifySignature(archivePath, sigPath, publicKey string) error {
	pubKey, err := minisign.NewPublicKey(publicKey)
	if err != nil {
		return fmt.Errorf("parse minisign public key: %w", err)
	}
	sig, err := minisign.NewSignatureFromFile(sigPath)
	if err != nil {
		return fmt.Errorf("read minisign signature: %w", err)
	}
	content, err := os.ReadFile(archivePath)
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}
	valid, err := pubKey.Verify(content, sig)
	if err != nil {
		return fmt.Errorf("minisign: verification error: %w", err)
	}
	if !valid {
		return errors.New("minisign: signature verification failed")
	}
	return nil
}
