package discovery

import (
	"encoding/xml"
	"fmt"

	"github.com/dokzlo13/bulbd/internal/light"
)

type specVersion struct {
	Major int `xml:"major"`
	Minor int `xml:"minor"`
}

type icon struct {
	Mimetype string `xml:"mimetype"`
	Height   int    `xml:"height"`
	Width    int    `xml:"width"`
	Depth    int    `xml:"depth"`
	URL      string `xml:"url"`
}

type device struct {
	DeviceType       string `xml:"deviceType"`
	FriendlyName     string `xml:"friendlyName"`
	Manufacturer     string `xml:"manufacturer"`
	ManufacturerURL  string `xml:"manufacturerURL"`
	ModelDescription string `xml:"modelDescription"`
	ModelName        string `xml:"modelName"`
	ModelNumber      string `xml:"modelNumber"`
	ModelURL         string `xml:"modelURL"`
	SerialNumber     string `xml:"serialNumber"`
	UDN              string `xml:"UDN"`
	PresentationURL  string `xml:"presentationURL"`
	Icons            []icon `xml:"iconList>icon"`
}

// Description is the UPnP device document served at /description.xml.
type Description struct {
	XMLName     xml.Name    `xml:"urn:schemas-upnp-org:device-1-0 root"`
	SpecVersion specVersion `xml:"specVersion"`
	URLBase     string      `xml:"URLBase"`
	Device      device      `xml:"device"`
}

// NewDescription describes the bridge reachable at host:port.
func NewDescription(desc light.Descriptor, host string, port int) Description {
	return Description{
		SpecVersion: specVersion{Major: 1, Minor: 0},
		URLBase:     fmt.Sprintf("http://%s:%d/", host, port),
		Device: device{
			DeviceType:       "urn:schemas-upnp-org:device:Basic:1",
			FriendlyName:     fmt.Sprintf("%s (%s)", desc.Name, host),
			Manufacturer:     "Signify",
			ManufacturerURL:  "http://www.philips-hue.com",
			ModelDescription: "Philips hue Personal Wireless Lighting",
			ModelName:        "Philips hue bridge 2015",
			ModelNumber:      desc.ModelID,
			ModelURL:         "http://www.philips-hue.com",
			SerialNumber:     desc.SerialNumber(),
			UDN:              "uuid:" + UDN(desc),
			PresentationURL:  "index.html",
			Icons: []icon{{
				Mimetype: "image/png",
				Height:   48,
				Width:    48,
				Depth:    24,
				URL:      "hue_logo_0.png",
			}},
		},
	}
}

// MarshalDocument renders d with the XML header.
func (d Description) MarshalDocument() ([]byte, error) {
	body, err := xml.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}
