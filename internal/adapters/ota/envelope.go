package ota

import "encoding/xml"

const Namespace = "http://www.opentravel.org/OTA/2003/05"

// HotelRateAmountNotifRQ is the rate push sent to the channel manager.
// Repeated elements decode into slices whether the partner sends one or many.
type HotelRateAmountNotifRQ struct {
	XMLName            xml.Name           `xml:"OTA_HotelRateAmountNotifRQ"`
	Xmlns              string             `xml:"xmlns,attr,omitempty"`
	EchoToken          string             `xml:"EchoToken,attr"`
	TimeStamp          string             `xml:"TimeStamp,attr"`
	Target             string             `xml:"Target,attr,omitempty"`
	Version            string             `xml:"Version,attr"`
	POS                POS                `xml:"POS"`
	RateAmountMessages RateAmountMessages `xml:"RateAmountMessages"`
}

type POS struct {
	Source Source `xml:"Source"`
}

type Source struct {
	RequestorID RequestorID `xml:"RequestorID"`
}

type RequestorID struct {
	ID              string `xml:"ID,attr"`
	IDContext       string `xml:"ID_Context,attr"`
	MessagePassword string `xml:"MessagePassword,attr,omitempty"`
}

type RateAmountMessages struct {
	HotelCode string              `xml:"HotelCode,attr"`
	HotelName string              `xml:"HotelName,attr,omitempty"`
	Messages  []RateAmountMessage `xml:"RateAmountMessage"`
}

type RateAmountMessage struct {
	StatusApplicationControl StatusApplicationControl `xml:"StatusApplicationControl"`
	Rates                    Rates                    `xml:"Rates"`
}

type StatusApplicationControl struct {
	InvTypeCode  string `xml:"InvTypeCode,attr"`
	RatePlanCode string `xml:"RatePlanCode,attr"`
	Start        string `xml:"Start,attr"`
	End          string `xml:"End,attr"`
}

type Rates struct {
	Rate []Rate `xml:"Rate"`
}

// Rate day flags are the OTA tokens "1"/"0", never booleans.
type Rate struct {
	Mon                    string                  `xml:"Mon,attr"`
	Tue                    string                  `xml:"Tue,attr"`
	Weds                   string                  `xml:"Weds,attr"`
	Thur                   string                  `xml:"Thur,attr"`
	Fri                    string                  `xml:"Fri,attr"`
	Sat                    string                  `xml:"Sat,attr"`
	Sun                    string                  `xml:"Sun,attr"`
	CurrencyCode           string                  `xml:"CurrencyCode,attr"`
	BaseByGuestAmts        BaseByGuestAmts         `xml:"BaseByGuestAmts"`
	AdditionalGuestAmounts *AdditionalGuestAmounts `xml:"AdditionalGuestAmounts,omitempty"`
}

type BaseByGuestAmts struct {
	Amounts []BaseByGuestAmt `xml:"BaseByGuestAmt"`
}

type BaseByGuestAmt struct {
	AmountBeforeTax string `xml:"AmountBeforeTax,attr"`
	NumberOfGuests  string `xml:"NumberOfGuests,attr"`
}

type AdditionalGuestAmounts struct {
	Amounts []AdditionalGuestAmount `xml:"AdditionalGuestAmount"`
}

type AdditionalGuestAmount struct {
	AgeQualifyingCode string `xml:"AgeQualifyingCode,attr"`
	Amount            string `xml:"Amount,attr"`
}

// HotelRateAmountNotifRS is the partner acknowledgment.
type HotelRateAmountNotifRS struct {
	XMLName   xml.Name  `xml:"OTA_HotelRateAmountNotifRS"`
	EchoToken string    `xml:"EchoToken,attr"`
	TimeStamp string    `xml:"TimeStamp,attr"`
	Version   string    `xml:"Version,attr"`
	Success   *struct{} `xml:"Success"`
	Warnings  *Warnings `xml:"Warnings"`
	Errors    *Errors   `xml:"Errors"`
}

type Warnings struct {
	Items []Notice `xml:"Warning"`
}

type Errors struct {
	Items []Notice `xml:"Error"`
}

// Notice is an OTA Error/Warning. RecordID, when present, is the 1-based
// position of the RateAmountMessage it refers to.
type Notice struct {
	Type      string `xml:"Type,attr"`
	Code      string `xml:"Code,attr"`
	ShortText string `xml:"ShortText,attr"`
	RecordID  string `xml:"RecordID,attr"`
	Text      string `xml:",chardata"`
}
