// Package scene prepares an SVG map scene for an external renderer.
//
// The document is scanned once with encoding/xml. Rewrites are applied as
// byte splices over the original input, so markup that is not touched is
// passed to the renderer exactly as the scene producer wrote it.
package scene

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// MissingDataError lists image references that do not resolve to a file
type MissingDataError struct {
	References []string
}

func (e *MissingDataError) Error() string {
	return fmt.Sprintf("scene references missing image files: %s", strings.Join(e.References, ", "))
}

type element struct {
	start, end  int
	tag         xml.StartElement
	selfClosing bool
}

// Document is a parsed SVG scene
type Document struct {
	data    []byte
	root    element
	rootEnd int
	images  []element

	// Width and Height are the physical size of the root element
	Width, Height Length
	// ViewBox is minx, miny, width, height in user units
	ViewBox    [4]float64
	hasViewBox bool

	resolved map[int]string
}

// Parse scans an SVG document. The root must be <svg> with width and height
// given in absolute units.
func Parse(data []byte) (*Document, error) {
	doc := &Document{data: data, rootEnd: -1}

	dec := xml.NewDecoder(bytes.NewReader(data))
	depth := 0
	for {
		start := int(dec.InputOffset())
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid SVG: %v", err)
		}
		end := int(dec.InputOffset())

		switch t := tok.(type) {
		case xml.StartElement:
			el := element{
				start:       start,
				end:         end,
				tag:         t.Copy(),
				selfClosing: bytes.HasSuffix(bytes.TrimRight(data[start:end], " \t\r\n"), []byte("/>")),
			}
			if depth == 0 {
				if doc.root.end != 0 {
					return nil, fmt.Errorf("invalid SVG: more than one root element")
				}
				if t.Name.Local != "svg" {
					return nil, fmt.Errorf("invalid SVG: root element is <%s>", t.Name.Local)
				}
				doc.root = el
			} else if t.Name.Local == "image" {
				doc.images = append(doc.images, el)
			}
			depth++
		case xml.EndElement:
			depth--
			if depth == 0 {
				doc.rootEnd = start
			}
		}
	}

	if doc.root.end == 0 || doc.rootEnd < 0 {
		return nil, fmt.Errorf("invalid SVG: no root element")
	}

	if err := doc.parseSize(); err != nil {
		return nil, err
	}

	return doc, nil
}

func (d *Document) parseSize() error {
	width, ok := attr(d.root.tag, "width")
	if !ok {
		return fmt.Errorf("SVG root has no width")
	}
	height, ok := attr(d.root.tag, "height")
	if !ok {
		return fmt.Errorf("SVG root has no height")
	}

	var err error
	if d.Width, err = ParseLength(width); err != nil {
		return fmt.Errorf("SVG width: %v", err)
	}
	if d.Height, err = ParseLength(height); err != nil {
		return fmt.Errorf("SVG height: %v", err)
	}

	if viewBox, ok := attr(d.root.tag, "viewBox"); ok {
		fields := strings.FieldsFunc(viewBox, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
		})
		if len(fields) != 4 {
			return fmt.Errorf("invalid viewBox %q", viewBox)
		}
		for i, f := range fields {
			if d.ViewBox[i], err = strconv.ParseFloat(f, 64); err != nil {
				return fmt.Errorf("invalid viewBox %q: %v", viewBox, err)
			}
		}
		if d.ViewBox[2] <= 0 || d.ViewBox[3] <= 0 {
			return fmt.Errorf("invalid viewBox %q", viewBox)
		}
		d.hasViewBox = true
	} else {
		// without a viewBox one user unit is one CSS pixel
		d.ViewBox = [4]float64{0, 0, d.Width.Pixels(), d.Height.Pixels()}
	}

	return nil
}

// UserSize returns the width and height of the document in user units
func (d *Document) UserSize() (float64, float64) {
	return d.ViewBox[2], d.ViewBox[3]
}

// ImageReferences returns the href of every <image> element, in document order
func (d *Document) ImageReferences() []string {
	var refs []string
	for _, el := range d.images {
		if href, ok := imageHref(el.tag); ok {
			refs = append(refs, href)
		}
	}
	return refs
}

// ResolveReferences maps local image references to absolute file URLs.
// References that do not exist are reported together in a MissingDataError.
func (d *Document) ResolveReferences(baseDir string) error {
	d.resolved = make(map[int]string)

	var missing []string
	for i, el := range d.images {
		href, ok := imageHref(el.tag)
		if !ok || !isLocalReference(href) {
			continue
		}

		path := href
		if u, err := url.Parse(href); err == nil && (u.Scheme == "" || u.Scheme == "file") && u.Path != "" {
			// relative references and file URLs are URL paths
			path = filepath.FromSlash(u.Path)
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		path, err := filepath.Abs(path)
		if err != nil {
			missing = append(missing, href)
			continue
		}

		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			missing = append(missing, href)
			continue
		}

		d.resolved[i] = (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
	}

	if len(missing) > 0 {
		return &MissingDataError{References: missing}
	}

	return nil
}

// RewriteOptions control how the document is prepared for a renderer
type RewriteOptions struct {
	// Zoom multiplies the physical width and height
	Zoom float64
	// Width and Height replace the physical size when their Value is set
	Width, Height Length
	// Transform is applied to all content; empty for none
	Transform string
	// ClipOverflow stops renderers from drawing content outside the viewport
	ClipOverflow bool
}

type splice struct {
	start, end int
	text       []byte
}

// Rewrite returns the document with a scaled size, absolute image
// references and the content transform applied.
func (d *Document) Rewrite(opts RewriteOptions) []byte {
	var splices []splice

	root := d.root.tag.Copy()
	zoom := opts.Zoom
	if zoom <= 0 {
		zoom = 1
	}
	width, height := d.Width, d.Height
	if opts.Width.Value > 0 {
		width = opts.Width
	}
	if opts.Height.Value > 0 {
		height = opts.Height
	}
	setAttr(&root, "width", width.Scale(zoom).String())
	setAttr(&root, "height", height.Scale(zoom).String())
	if !d.hasViewBox {
		setAttr(&root, "viewBox", fmt.Sprintf("0 0 %s %s", formatFloat(d.ViewBox[2]), formatFloat(d.ViewBox[3])))
	}
	if opts.ClipOverflow {
		style, _ := attr(root, "style")
		style = strings.TrimRight(strings.TrimSpace(style), ";")
		if style != "" {
			style += "; "
		}
		setAttr(&root, "style", style+"overflow: hidden")
	}

	var open bytes.Buffer
	writeStartTag(&open, root, d.root.selfClosing)
	if opts.Transform != "" && !d.root.selfClosing {
		open.WriteString(`<g transform="`)
		xml.EscapeText(&open, []byte(opts.Transform))
		open.WriteString(`">`)
		splices = append(splices, splice{d.rootEnd, d.rootEnd, []byte("</g>")})
	}
	splices = append(splices, splice{d.root.start, d.root.end, open.Bytes()})

	for i, el := range d.images {
		resolved, ok := d.resolved[i]
		if !ok {
			continue
		}
		tag := el.tag.Copy()
		for j := range tag.Attr {
			if tag.Attr[j].Name.Local == "href" {
				tag.Attr[j].Value = resolved
			}
		}
		var buf bytes.Buffer
		writeStartTag(&buf, tag, el.selfClosing)
		splices = append(splices, splice{el.start, el.end, buf.Bytes()})
	}

	sort.SliceStable(splices, func(i, j int) bool {
		return splices[i].start < splices[j].start
	})

	var out bytes.Buffer
	out.Grow(len(d.data) + 256)
	pos := 0
	for _, s := range splices {
		out.Write(d.data[pos:s.start])
		out.Write(s.text)
		pos = s.end
	}
	out.Write(d.data[pos:])

	return out.Bytes()
}

func attr(tag xml.StartElement, local string) (string, bool) {
	for _, a := range tag.Attr {
		if a.Name.Space == "" && a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

func setAttr(tag *xml.StartElement, local, value string) {
	for i, a := range tag.Attr {
		if a.Name.Space == "" && a.Name.Local == local {
			tag.Attr[i].Value = value
			return
		}
	}
	tag.Attr = append(tag.Attr, xml.Attr{Name: xml.Name{Local: local}, Value: value})
}

// imageHref prefers the SVG 2 href over xlink:href
func imageHref(tag xml.StartElement) (string, bool) {
	if href, ok := attr(tag, "href"); ok {
		return href, true
	}
	for _, a := range tag.Attr {
		if a.Name.Local == "href" {
			return a.Value, true
		}
	}
	return "", false
}

func isLocalReference(href string) bool {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "data:") {
		return false
	}
	u, err := url.Parse(href)
	if err != nil {
		// not a URL, so a file path
		return true
	}
	// single letter schemes are windows drive letters
	return u.Scheme == "" || u.Scheme == "file" || len(u.Scheme) == 1
}

func writeStartTag(buf *bytes.Buffer, tag xml.StartElement, selfClosing bool) {
	buf.WriteByte('<')
	buf.WriteString(qualifiedName(tag.Name))
	for _, a := range tag.Attr {
		buf.WriteByte(' ')
		buf.WriteString(qualifiedName(a.Name))
		buf.WriteString(`="`)
		xml.EscapeText(buf, []byte(a.Value))
		buf.WriteByte('"')
	}
	if selfClosing {
		buf.WriteString("/>")
	} else {
		buf.WriteByte('>')
	}
}

func qualifiedName(name xml.Name) string {
	if name.Space == "" {
		return name.Local
	}
	return name.Space + ":" + name.Local
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
