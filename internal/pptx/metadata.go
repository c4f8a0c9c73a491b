package pptx

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	customPropsPart        = "docProps/custom.xml"
	contentTypesPart       = "[Content_Types].xml"
	packageRelsPart        = "_rels/.rels"
	customPropsFmtID       = "{D5CDD505-2E9C-101B-9397-08002B2CF9AE}"
	customPropsContentType = "application/vnd.openxmlformats-officedocument.custom-properties+xml"
	customPropsRelType     = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/custom-properties"
)

type customPropertyXML struct {
	FmtID string `xml:"fmtid,attr"`
	PID   string `xml:"pid,attr"`
	Name  string `xml:"name,attr"`
	Inner string `xml:",innerxml"`
}

type customPropertiesXML struct {
	XMLName    xml.Name
	Attrs      []xml.Attr          `xml:",any,attr"`
	Properties []customPropertyXML `xml:"property"`
}

// WriteCustomProperties stores props in docProps/custom.xml below root.
// Existing properties with the same name get the new value; new properties
// are appended with the next free pid (the first one is 2). When the part
// did not exist it is registered in the content types and package
// relationships.
func WriteCustomProperties(root string, props []Property) error {
	target := filepath.Join(root, filepath.FromSlash(customPropsPart))

	var doc customPropertiesXML
	created := false
	data, err := os.ReadFile(target)
	switch {
	case err == nil:
		if err := xml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse %s: %w", customPropsPart, err)
		}
	case os.IsNotExist(err):
		created = true
	default:
		return err
	}

	nsDecls, vtPrefix := namespaceDecls(doc.Attrs)

	nextPID := 2
	for _, p := range doc.Properties {
		if pid, err := strconv.Atoi(p.PID); err == nil && pid+1 > nextPID {
			nextPID = pid + 1
		}
	}

	for _, prop := range props {
		inner := fmt.Sprintf("<%s:lpwstr>%s</%s:lpwstr>", vtPrefix, escapeAttr(prop.Value), vtPrefix)
		updated := false
		for i := range doc.Properties {
			if doc.Properties[i].Name == prop.Name {
				doc.Properties[i].Inner = inner
				updated = true
			}
		}
		if updated {
			continue
		}
		doc.Properties = append(doc.Properties, customPropertyXML{
			FmtID: customPropsFmtID,
			PID:   strconv.Itoa(nextPID),
			Name:  prop.Name,
			Inner: inner,
		})
		nextPID++
	}

	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n")
	buf.WriteString("<Properties")
	buf.WriteString(nsDecls)
	buf.WriteString(">")
	for _, p := range doc.Properties {
		fmt.Fprintf(&buf, `<property fmtid="%s" pid="%s" name="%s">%s</property>`,
			escapeAttr(p.FmtID), escapeAttr(p.PID), escapeAttr(p.Name), p.Inner)
	}
	buf.WriteString("</Properties>")

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(target, buf.Bytes(), 0644); err != nil {
		return err
	}

	if created {
		if err := registerCustomProperties(root); err != nil {
			return err
		}
	}
	return nil
}

// namespaceDecls re-renders the root's namespace declarations with the
// custom-properties namespace as default and returns the docPropsVTypes prefix
func namespaceDecls(attrs []xml.Attr) (string, string) {
	var sb strings.Builder
	vtPrefix := ""
	for _, a := range attrs {
		if a.Name.Space == "xmlns" {
			if a.Value == nsVT && vtPrefix == "" {
				vtPrefix = a.Name.Local
			}
			fmt.Fprintf(&sb, ` xmlns:%s="%s"`, a.Name.Local, escapeAttr(a.Value))
		}
	}
	if vtPrefix == "" {
		vtPrefix = "vt"
		if strings.Contains(sb.String(), ` xmlns:vt=`) {
			vtPrefix = "vtx"
		}
		fmt.Fprintf(&sb, ` xmlns:%s="%s"`, vtPrefix, nsVT)
	}
	return ` xmlns="` + nsCP + `"` + sb.String(), vtPrefix
}

// registerCustomProperties adds the content-type override and the package
// relationship for a newly created custom properties part
func registerCustomProperties(root string) error {
	types, err := LoadPart(root, contentTypesPart)
	if err != nil {
		return fmt.Errorf("read %s: %w", contentTypesPart, err)
	}
	if !bytes.Contains(types.data, []byte(`PartName="/`+customPropsPart+`"`)) {
		markup := fmt.Sprintf(`<Override PartName="/%s" ContentType="%s"/>`, customPropsPart, customPropsContentType)
		if err := types.InsertBeforeRootEnd(markup); err != nil {
			return err
		}
		if err := types.Save(root); err != nil {
			return err
		}
	}

	rels, err := LoadPart(root, packageRelsPart)
	if err != nil {
		return fmt.Errorf("read %s: %w", packageRelsPart, err)
	}
	existing := relationshipIDs(rels.data)
	if _, ok := existing["target:"+customPropsPart]; ok {
		return nil
	}
	id := "rId1"
	for n := 1; ; n++ {
		id = "rId" + strconv.Itoa(n)
		if _, taken := existing[id]; !taken {
			break
		}
	}
	markup := fmt.Sprintf(`<Relationship Id="%s" Type="%s" Target="%s"/>`, id, customPropsRelType, customPropsPart)
	if err := rels.InsertBeforeRootEnd(markup); err != nil {
		return err
	}
	return rels.Save(root)
}

// relationshipIDs returns the ids of a .rels part plus "target:<target>" keys
func relationshipIDs(data []byte) map[string]struct{} {
	var rels relationshipsXML
	out := make(map[string]struct{})
	if err := xml.Unmarshal(data, &rels); err != nil {
		return out
	}
	for _, r := range rels.Relationships {
		out[r.ID] = struct{}{}
		out["target:"+strings.TrimPrefix(r.Target, "/")] = struct{}{}
	}
	return out
}

// ReadCustomProperties returns the lpwstr values of docProps/custom.xml by name
func ReadCustomProperties(root string) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(customPropsPart)))
	if err != nil {
		return nil, err
	}
	var doc struct {
		Properties []struct {
			PID   string `xml:"pid,attr"`
			Name  string `xml:"name,attr"`
			Value string `xml:"lpwstr"`
		} `xml:"property"`
	}
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(doc.Properties))
	for _, p := range doc.Properties {
		out[p.Name] = p.Value
	}
	return out, nil
}
