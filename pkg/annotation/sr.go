package annotation

import (
	"bytes"
	"math"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/jpfielding/dicom3d/pkg/dicom"
	"github.com/jpfielding/dicom3d/pkg/dicom/transfer"
	"github.com/jpfielding/dicom3d/pkg/dicom/vr"
	"github.com/jpfielding/dicom3d/pkg/series"
	"github.com/jpfielding/dicom3d/pkg/volume"
)

// SOPClassComprehensive3DSR is the SOP Class UID for the envelope
// ExportSR/ImportSR produce (spec.md §6).
const SOPClassComprehensive3DSR = "1.2.840.10008.5.1.4.1.1.88.34"

// defaultReferencedSOPClassUID stands in for the image SOP class backing a
// referenced instance; RawSlice does not retain it (spec.md §3 only lists
// SOP Instance UID among the attributes SliceReader carries forward).
const defaultReferencedSOPClassUID = "1.2.840.10008.5.1.4.1.1.2"

var (
	tagTransferSyntaxUID             = dicom.Tag{Group: 0x0002, Element: 0x0010}
	tagSOPClassUID                   = dicom.Tag{Group: 0x0008, Element: 0x0016}
	tagSOPInstanceUID                = dicom.Tag{Group: 0x0008, Element: 0x0018}
	tagStudyDate                     = dicom.Tag{Group: 0x0008, Element: 0x0020}
	tagModality                      = dicom.Tag{Group: 0x0008, Element: 0x0060}
	tagMappingResource               = dicom.Tag{Group: 0x0008, Element: 0x0105}
	tagReferencedSOPClassUID         = dicom.Tag{Group: 0x0008, Element: 0x1150}
	tagReferencedSOPInstanceUID      = dicom.Tag{Group: 0x0008, Element: 0x1155}
	tagReferencedSOPSequence         = dicom.Tag{Group: 0x0008, Element: 0x1199}
	tagPatientID                     = dicom.Tag{Group: 0x0010, Element: 0x0020}
	tagStudyInstanceUID              = dicom.Tag{Group: 0x0020, Element: 0x000D}
	tagSeriesInstanceUID             = dicom.Tag{Group: 0x0020, Element: 0x000E}
	tagValueType                     = dicom.Tag{Group: 0x0040, Element: 0xA040}
	tagConceptNameCodeSequence       = dicom.Tag{Group: 0x0040, Element: 0xA043}
	tagContinuityOfContent           = dicom.Tag{Group: 0x0040, Element: 0xA050}
	tagTextValue                     = dicom.Tag{Group: 0x0040, Element: 0xA160}
	tagContentTemplateSequence       = dicom.Tag{Group: 0x0040, Element: 0xA504}
	tagTemplateIdentifier            = dicom.Tag{Group: 0x0040, Element: 0xDB00}
	tagCompletionFlag                = dicom.Tag{Group: 0x0040, Element: 0xA491}
	tagVerificationFlag              = dicom.Tag{Group: 0x0040, Element: 0xA493}
	tagContentSequence               = dicom.Tag{Group: 0x0040, Element: 0xA730}
	tagCodeValue                     = dicom.Tag{Group: 0x0008, Element: 0x0100}
	tagCodingSchemeDesignator        = dicom.Tag{Group: 0x0008, Element: 0x0102}
	tagCodeMeaning                   = dicom.Tag{Group: 0x0008, Element: 0x0104}
	tagGraphicType                   = dicom.Tag{Group: 0x0070, Element: 0x0023}
	tagGraphicData                   = dicom.Tag{Group: 0x0070, Element: 0x0022}
	tagReferencedFrameOfReferenceUID = dicom.Tag{Group: 0x3006, Element: 0x0024}
)

// ExportSR serializes annotations against s and vol into a Comprehensive 3D
// SR content sequence (spec.md §4.G). Each annotation's normalized position
// is mapped through vol's GeometryMap into patient coordinates; a label
// appends a trailing TEXT content item.
func ExportSR(annotations []*Annotation, s *series.Series, vol *volume.Volume) ([]byte, error) {
	gm := vol.Map()

	root := dicom.NewDataset()
	root.Put(tagTransferSyntaxUID, vr.UI, string(transfer.ExplicitVRLittleEndian))
	root.Put(tagSOPClassUID, vr.UI, SOPClassComprehensive3DSR)
	root.Put(tagSOPInstanceUID, vr.UI, genUID())
	if s.PatientID != "" {
		root.Put(tagPatientID, vr.LO, s.PatientID)
	}

	studyUID := s.StudyInstanceUID
	if studyUID == "" {
		studyUID = genUID()
	}
	root.Put(tagStudyInstanceUID, vr.UI, studyUID)

	seriesUID := s.SeriesInstanceUID
	if seriesUID == "" {
		seriesUID = genUID()
	}
	root.Put(tagSeriesInstanceUID, vr.UI, seriesUID)

	root.Put(tagModality, vr.CS, "SR")
	if s.StudyDate != "" {
		root.Put(tagStudyDate, vr.DA, s.StudyDate)
	}
	root.Put(tagValueType, vr.CS, "CONTAINER")
	root.Put(tagContinuityOfContent, vr.CS, "SEPARATE")
	root.Put(tagCompletionFlag, vr.CS, "COMPLETE")
	root.Put(tagVerificationFlag, vr.CS, "UNVERIFIED")

	templateItem := dicom.NewDataset()
	templateItem.Put(tagMappingResource, vr.CS, "DCMR")
	templateItem.Put(tagTemplateIdentifier, vr.CS, "1500")
	root.Put(tagContentTemplateSequence, vr.SQ, []*dicom.Dataset{templateItem})

	root.Put(tagConceptNameCodeSequence, vr.SQ, []*dicom.Dataset{
		codeItem("imaging-measurement-report", "99DICOM3D", "Imaging Measurement Report"),
	})

	var items []*dicom.Dataset
	for _, a := range annotations {
		item := dicom.NewDataset()
		item.Put(tagValueType, vr.CS, "SCOORD3D")

		start := gm.VoxelToPatient(gm.NormalizedToVoxel(a.Position))

		var graphicType, concept, conceptCode string
		var graphicData []float64
		switch a.Kind {
		case Arrow:
			end := gm.VoxelToPatient(gm.NormalizedToVoxel(a.ArrowTo))
			graphicType = "POLYLINE"
			graphicData = []float64{start[0], start[1], start[2], end[0], end[1], end[2]}
			concept = "arrow annotation"
			conceptCode = "arrow-annotation"
		default: // Marker, Label
			graphicType = "POINT"
			graphicData = []float64{start[0], start[1], start[2]}
			concept = "point annotation"
			conceptCode = "point-annotation"
		}

		item.Put(tagGraphicType, vr.CS, graphicType)
		item.Put(tagGraphicData, vr.FD, graphicData)
		item.Put(tagConceptNameCodeSequence, vr.SQ, []*dicom.Dataset{
			codeItem(conceptCode, "99DICOM3D", concept),
		})
		if s.FrameOfReferenceUID != "" {
			item.Put(tagReferencedFrameOfReferenceUID, vr.UI, s.FrameOfReferenceUID)
		}
		if sopUID, sopClass, ok := resolveReferencedInstance(a, s, vol); ok {
			refItem := dicom.NewDataset()
			refItem.Put(tagReferencedSOPClassUID, vr.UI, sopClass)
			refItem.Put(tagReferencedSOPInstanceUID, vr.UI, sopUID)
			item.Put(tagReferencedSOPSequence, vr.SQ, []*dicom.Dataset{refItem})
		}
		items = append(items, item)

		if a.LabelText != "" {
			textItem := dicom.NewDataset()
			textItem.Put(tagValueType, vr.CS, "TEXT")
			textItem.Put(tagTextValue, vr.UT, a.LabelText)
			textItem.Put(tagConceptNameCodeSequence, vr.SQ, []*dicom.Dataset{
				codeItem("annotation-label", "99DICOM3D", "annotation label"),
			})
			items = append(items, textItem)
		}
	}
	root.Put(tagContentSequence, vr.SQ, items)

	var buf bytes.Buffer
	if err := dicom.Write(&buf, root); err != nil {
		return nil, newErr(MalformedReport, err.Error())
	}
	return buf.Bytes(), nil
}

// ImportSR parses a structured report produced by ExportSR (or a
// conformant peer) against vol, which must carry valid geometry. s is
// optional and used only to resolve a referenced SOP instance back into a
// slice index.
func ImportSR(data []byte, vol *volume.Volume, s *series.Series) ([]*Annotation, error) {
	if vol == nil {
		return nil, newErr(NoVolumeLoaded, "")
	}

	ds, err := dicom.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, newErr(MalformedReport, err.Error())
	}

	contentElem, ok := ds.Find(tagContentSequence)
	if !ok {
		return nil, newErr(MalformedReport, "missing content sequence")
	}
	items, ok := contentElem.GetSequence()
	if !ok {
		return nil, newErr(MalformedReport, "content sequence is not a sequence")
	}

	gm := vol.Map()

	var out []*Annotation
	var last *Annotation
	for _, item := range items {
		vtElem, ok := item.Find(tagValueType)
		if !ok {
			continue
		}
		vt, _ := vtElem.GetString()

		switch vt {
		case "SCOORD3D":
			a, ok := parseGeometricItem(item, gm)
			if !ok {
				continue
			}
			if s != nil {
				if idx, found := resolveSliceIndex(item, s); found {
					a.HasSliceIndex = true
					a.SliceIndex = idx
				}
			}
			out = append(out, a)
			last = a
		case "TEXT":
			txtElem, ok := item.Find(tagTextValue)
			if !ok || last == nil {
				continue
			}
			txt, _ := txtElem.GetString()
			last.LabelText = txt
			last.Kind = Label
		default:
			continue
		}
	}

	if len(out) == 0 {
		return nil, newErr(NoAnnotationsFound, "")
	}
	return out, nil
}

func parseGeometricItem(item *dicom.Dataset, gm *volume.Map) (*Annotation, bool) {
	gtElem, ok := item.Find(tagGraphicType)
	if !ok {
		return nil, false
	}
	gt, _ := gtElem.GetString()

	gdElem, ok := item.Find(tagGraphicData)
	if !ok {
		return nil, false
	}
	coords, ok := gdElem.GetFloats()
	if !ok {
		return nil, false
	}

	a := &Annotation{ID: NewID(), CreatedAt: time.Now()}

	switch gt {
	case "POINT":
		if len(coords) < 3 {
			return nil, false
		}
		voxel, err := gm.PatientToVoxel([3]float64{coords[0], coords[1], coords[2]})
		if err != nil {
			return nil, false
		}
		a.Kind = Marker
		a.Position = clamp01(gm.VoxelToNormalized(voxel))
	case "POLYLINE":
		if len(coords) < 6 {
			return nil, false
		}
		startVoxel, err := gm.PatientToVoxel([3]float64{coords[0], coords[1], coords[2]})
		if err != nil {
			return nil, false
		}
		endVoxel, err := gm.PatientToVoxel([3]float64{coords[3], coords[4], coords[5]})
		if err != nil {
			return nil, false
		}
		a.Kind = Arrow
		a.Position = clamp01(gm.VoxelToNormalized(startVoxel))
		a.HasArrowTo = true
		a.ArrowTo = clamp01(gm.VoxelToNormalized(endVoxel))
	default:
		return nil, false
	}
	return a, true
}

func resolveSliceIndex(item *dicom.Dataset, s *series.Series) (int, bool) {
	refElem, ok := item.Find(tagReferencedSOPSequence)
	if !ok {
		return 0, false
	}
	refItems, ok := refElem.GetSequence()
	if !ok || len(refItems) == 0 {
		return 0, false
	}
	instElem, ok := refItems[0].Find(tagReferencedSOPInstanceUID)
	if !ok {
		return 0, false
	}
	uid, ok := instElem.GetString()
	if !ok {
		return 0, false
	}
	for i, sl := range s.Slices {
		if sl.SOPInstanceUID == uid {
			return i, true
		}
	}
	return 0, false
}

// resolveReferencedInstance picks the Series slice an annotation's depth
// bin falls into (spec.md §4.G).
func resolveReferencedInstance(a *Annotation, s *series.Series, vol *volume.Volume) (sopUID, sopClass string, ok bool) {
	if s == nil || len(s.Slices) == 0 {
		return "", "", false
	}

	idx := a.SliceIndex
	if !a.HasSliceIndex {
		voxel := vol.Map().NormalizedToVoxel(a.Position)
		idx = int(math.Round(voxel[2]))
	}
	if idx < 0 {
		idx = 0
	}
	if idx >= len(s.Slices) {
		idx = len(s.Slices) - 1
	}

	sl := s.Slices[idx]
	if sl.SOPInstanceUID == "" {
		return "", "", false
	}
	return sl.SOPInstanceUID, defaultReferencedSOPClassUID, true
}

func codeItem(value, scheme, meaning string) *dicom.Dataset {
	d := dicom.NewDataset()
	d.Put(tagCodeValue, vr.SH, value)
	d.Put(tagCodingSchemeDesignator, vr.SH, scheme)
	d.Put(tagCodeMeaning, vr.LO, meaning)
	return d
}

func clamp01(v [3]float64) [3]float64 {
	for i := range v {
		if v[i] < 0 {
			v[i] = 0
		}
		if v[i] > 1 {
			v[i] = 1
		}
	}
	return v
}

// genUID derives a DICOM UID from a random UUID using the Annex-B
// UUID-to-OID scheme (root 2.25), avoiding the need for a registered
// organizational prefix.
func genUID() string {
	id := uuid.New()
	var n big.Int
	n.SetBytes(id[:])
	return "2.25." + n.String()
}
